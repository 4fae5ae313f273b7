// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// update.go - Bubble Tea update loop for the chat view.

package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/morganforge/ragchat/internal/gate"
)

// Init starts the spinner and, when the captcha gate is first, fetches
// a challenge immediately.
func (m Model) Init() tea.Cmd {
	if m.state == StateGate && m.widget.Gates().State() == gate.StateNeedsCaptcha {
		return m.fetchChallenge()
	}
	return nil
}

// Update handles all incoming messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.termWidth = msg.Width
		m.termHeight = msg.Height
		m.resizeViewport()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case spinner.TickMsg:
		if m.state != StateStreaming {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case streamChunkMsg:
		if text, ok := m.streamingBuffer.Flush(); ok {
			m.streamingText += text
			m.refreshViewport()
		}
		return m, m.waitForStream()

	case streamDoneMsg:
		return m.handleStreamDone(sendResult(msg))

	case challengeMsg:
		if msg.err != nil {
			m.gateNotice = m.widget.Messages().TransportError
			return m, nil
		}
		m.challenge = msg.challenge
		m.gateNotice = ""
		return m, nil

	case captchaVerifiedMsg:
		return m.handleCaptchaVerified(msg)

	case agreementsDoneMsg:
		if msg.err != nil {
			m.gateNotice = m.widget.Messages().AgreementsIncomplete
			return m, nil
		}
		return m.gateOpened()
	}

	return m, nil
}

// =============================================================================
// KEY HANDLING
// =============================================================================

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keyMap.Quit):
		if m.cancelStream != nil {
			m.cancelStream()
		}
		return m, tea.Quit

	case key.Matches(msg, m.keyMap.Cancel):
		if m.state == StateStreaming && m.cancelStream != nil {
			m.cancelStream()
			m.cancelStream = nil
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Clear):
		if m.state == StateReady {
			m.widget.ClearHistory()
			m.notice = m.widget.Messages().HistoryCleared
			m.refreshViewport()
			// Clearing resets the gates; re-run the gate flow before
			// the next message.
			if !m.widget.Gates().IsOpen() {
				m.state = StateGate
				m.challenge = nil
				m.acceptedCount = 0
				m.input.SetValue("")
				if m.widget.Gates().State() == gate.StateNeedsCaptcha {
					return m, m.fetchChallenge()
				}
			}
		}
		return m, nil

	case key.Matches(msg, m.keyMap.Wider), key.Matches(msg, m.keyMap.Narrower),
		key.Matches(msg, m.keyMap.Taller), key.Matches(msg, m.keyMap.Shorter):
		return m.handleResizeKey(msg), nil

	case key.Matches(msg, m.keyMap.Submit):
		return m.handleSubmit()
	}

	// Scrolling and text entry.
	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// handleResizeKey adjusts and persists the chat window dimensions.
func (m Model) handleResizeKey(msg tea.KeyMsg) Model {
	d := m.dims
	const step = 2
	switch {
	case key.Matches(msg, m.keyMap.Wider):
		d.Width += step
	case key.Matches(msg, m.keyMap.Narrower):
		d.Width -= step
	case key.Matches(msg, m.keyMap.Taller):
		d.Height += step
	case key.Matches(msg, m.keyMap.Shorter):
		d.Height -= step
	}
	m.dims = m.widget.SetDimensions(d)
	m.resizeViewport()
	return m
}

func (m Model) handleSubmit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(m.input.Value())

	if m.state == StateGate {
		return m.handleGateSubmit(text)
	}
	if m.state != StateReady || text == "" {
		return m, nil
	}

	m.input.SetValue("")
	m.input.Placeholder = m.widget.Messages().BusyPlaceholder
	cmd := m.startSend(text, false)
	return m, cmd
}

// =============================================================================
// GATE FLOW
// =============================================================================

func (m Model) handleGateSubmit(text string) (tea.Model, tea.Cmd) {
	gates := m.widget.Gates()
	msgs := m.widget.Messages()

	switch gates.State() {
	case gate.StateNeedsWelcome:
		if err := gates.SubmitWelcome(text); err != nil {
			return m, nil
		}
		m.input.SetValue("")
		return m.afterGateStep()

	case gate.StateNeedsCaptcha:
		if m.challenge == nil {
			return m, m.fetchChallenge()
		}
		if text == "" {
			return m, nil
		}
		m.input.SetValue("")
		return m, m.verifyCaptcha(m.challenge.Token, text)

	case gate.StateNeedsAgreements:
		// Each Enter accepts the next agreement; the last one closes
		// the gate.
		agreements := gates.Agreements()
		if m.acceptedCount < len(agreements) {
			if err := gates.Accept(agreements[m.acceptedCount].ID); err == nil {
				m.acceptedCount++
			}
		}
		if m.acceptedCount >= len(agreements) {
			return m, m.finishAgreements()
		}
		m.gateNotice = msgs.AgreementsIncomplete
		return m, nil
	}

	return m.gateOpened()
}

// afterGateStep advances the UI after one gate was passed.
func (m Model) afterGateStep() (tea.Model, tea.Cmd) {
	gates := m.widget.Gates()
	if gates.IsOpen() {
		return m.gateOpened()
	}
	m.gateNotice = ""
	if gates.State() == gate.StateNeedsCaptcha {
		return m, m.fetchChallenge()
	}
	return m, nil
}

func (m Model) handleCaptchaVerified(msg captchaVerifiedMsg) (tea.Model, tea.Cmd) {
	msgs := m.widget.Messages()
	if msg.err != nil {
		m.gateNotice = msgs.TransportError
		return m, nil
	}
	if !msg.ok {
		m.gateNotice = msgs.CaptchaWrongAnswer
		m.challenge = nil
		return m, m.fetchChallenge()
	}
	return m.afterGateStep()
}

// gateOpened switches to the chat screen and dispatches any message
// captured while the gates were closed.
func (m Model) gateOpened() (tea.Model, tea.Cmd) {
	m.state = StateReady
	m.challenge = nil
	m.gateNotice = ""
	m.acceptedCount = 0
	m.input.Placeholder = m.widget.Messages().InputPlaceholder
	m.refreshViewport()

	if m.widget.Gates().HasPending() {
		cmd := m.startSend("", true)
		return m, cmd
	}
	return m, nil
}

// =============================================================================
// STREAM COMPLETION
// =============================================================================

func (m Model) handleStreamDone(result sendResult) (tea.Model, tea.Cmd) {
	if text, ok := m.streamingBuffer.ForceFlush(); ok {
		m.streamingText += text
	}
	m.streamingText = ""
	m.cancelStream = nil
	m.state = StateReady
	m.input.Placeholder = m.widget.Messages().InputPlaceholder

	if result.err != nil {
		m.notice = m.widget.Notice(result.err)
		// A captcha re-verification demand reopens the gate screen.
		if m.widget.Gates().State() == gate.StateNeedsCaptcha {
			m.state = StateGate
			m.refreshViewport()
			return m, m.fetchChallenge()
		}
	}

	m.refreshViewport()
	return m, nil
}
