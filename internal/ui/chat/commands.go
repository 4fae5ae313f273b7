// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// commands.go - Bubble Tea commands and messages for the chat view.

package chat

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/ragchat/internal/gate"
)

// =============================================================================
// MESSAGES
// =============================================================================

// streamChunkMsg signals buffered stream text is ready to render.
type streamChunkMsg struct{}

// streamDoneMsg signals the in-flight stream finished.
type streamDoneMsg sendResult

// challengeMsg carries a fetched captcha challenge.
type challengeMsg struct {
	challenge *gate.Challenge
	err       error
}

// captchaVerifiedMsg carries a captcha verification outcome.
type captchaVerifiedMsg struct {
	ok  bool
	err error
}

// agreementsDoneMsg signals the agreements gate finished.
type agreementsDoneMsg struct {
	err error
}

// =============================================================================
// STREAMING COMMANDS
// =============================================================================

// startSend launches the streaming request in a goroutine and returns
// the command that forwards its progress into the update loop.
func (m *Model) startSend(text string, dispatchPending bool) tea.Cmd {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancelStream = cancel
	m.wakeCh = make(chan struct{}, 1)
	m.doneCh = make(chan sendResult, 1)
	m.streamingBuffer.Reset()
	m.streamingText = ""
	m.notice = ""
	m.state = StateStreaming

	wakeCh, doneCh := m.wakeCh, m.doneCh
	buf := m.streamingBuffer
	w := m.widget

	go func() {
		// Every chunk lands in the mutex-guarded buffer; the channel
		// only wakes the update loop, so a full channel never loses
		// content.
		onChunk := func(chunk string) {
			buf.Write(chunk)
			select {
			case wakeCh <- struct{}{}:
			default:
			}
		}

		var reply string
		var err error
		if dispatchPending {
			reply, _, err = w.DispatchPending(ctx, nil, onChunk)
		} else {
			reply, err = w.Send(ctx, text, nil, onChunk)
		}
		doneCh <- sendResult{reply: reply, err: err}
	}()

	return tea.Batch(m.waitForStream(), m.spinner.Tick)
}

// waitForStream returns a command that waits for the next stream event.
func (m *Model) waitForStream() tea.Cmd {
	wakeCh, doneCh := m.wakeCh, m.doneCh
	return func() tea.Msg {
		select {
		case <-wakeCh:
			return streamChunkMsg{}
		case result := <-doneCh:
			return streamDoneMsg(result)
		}
	}
}

// =============================================================================
// GATE COMMANDS
// =============================================================================

// fetchChallenge requests a fresh captcha challenge.
func (m *Model) fetchChallenge() tea.Cmd {
	gates := m.widget.Gates()
	return func() tea.Msg {
		ch, err := gates.Challenge(context.Background())
		return challengeMsg{challenge: ch, err: err}
	}
}

// verifyCaptcha submits the typed answer for the current challenge.
func (m *Model) verifyCaptcha(challengeToken, answer string) tea.Cmd {
	gates := m.widget.Gates()
	return func() tea.Msg {
		ok, err := gates.VerifyCaptcha(context.Background(), challengeToken, answer)
		return captchaVerifiedMsg{ok: ok, err: err}
	}
}

// finishAgreements records the consents and closes the gate.
func (m *Model) finishAgreements() tea.Cmd {
	gates := m.widget.Gates()
	return func() tea.Msg {
		return agreementsDoneMsg{err: gates.Continue(context.Background())}
	}
}
