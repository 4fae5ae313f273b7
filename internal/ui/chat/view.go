// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// view.go - Rendering for the chat view, including the three layout
// modes: floating (a bounded window), sidebar (full-height column),
// and showcase (full screen).

package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/conversation"
	"github.com/morganforge/ragchat/internal/gate"
)

// View renders the full frame.
func (m Model) View() string {
	w, h := m.chatSize()
	if w <= 0 || h <= 0 {
		return ""
	}

	var body string
	if m.state == StateGate {
		body = m.viewGate(w, h)
	} else {
		body = m.viewChat(w, h)
	}

	window := m.theme.Border.Width(w).Render(body)
	return m.place(window)
}

// place positions the chat window on the terminal per the layout mode.
func (m Model) place(window string) string {
	if m.termWidth == 0 || m.termHeight == 0 {
		return window
	}
	switch m.Layout() {
	case config.LayoutSidebar:
		return lipgloss.Place(m.termWidth, m.termHeight, lipgloss.Right, lipgloss.Top, window)
	case config.LayoutShowcase:
		return window
	default:
		// Floating windows sit bottom-right, like the embedded bubble.
		return lipgloss.Place(m.termWidth, m.termHeight, lipgloss.Right, lipgloss.Bottom, window)
	}
}

// =============================================================================
// CHAT SCREEN
// =============================================================================

func (m Model) viewChat(w, h int) string {
	header := m.viewHeader(w)
	status := m.viewStatus(w)
	input := m.input.View()

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	b.WriteString(input)
	b.WriteString("\n")
	b.WriteString(status)
	return b.String()
}

func (m Model) viewHeader(w int) string {
	title := "Chat"
	if m.state == StateStreaming {
		title = m.spinner.View() + " " + title
	}
	return m.theme.Header.Render(runewidth.Truncate(title, w-2, "..."))
}

func (m Model) viewStatus(w int) string {
	help := "Enter send  Esc cancel  C-l clear  C-c quit"
	return m.theme.StatusBar.Render(runewidth.Truncate(help, w-2, "..."))
}

// refreshViewport rebuilds the conversation transcript.
func (m *Model) refreshViewport() {
	var b strings.Builder

	for _, msg := range m.widget.History() {
		b.WriteString(m.renderMessage(msg))
		b.WriteString("\n")
	}
	if m.streamingText != "" {
		b.WriteString(m.theme.AssistantMessage.Render(m.streamingText))
		b.WriteString("\n")
	}
	if m.notice != "" {
		b.WriteString(m.theme.Notice.Render(m.notice))
		b.WriteString("\n")
	}

	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

func (m *Model) renderMessage(msg conversation.Message) string {
	if msg.Role == conversation.RoleUser {
		return m.theme.UserMessage.Render(msg.Content)
	}
	return m.theme.AssistantMessage.Render(m.renderer.Markdown(msg.Content))
}

// resizeViewport fits the viewport to the chat window.
func (m *Model) resizeViewport() {
	w, h := m.chatSize()
	// Header, input, and status bar each take a line; the border takes
	// two more.
	inner := h - 5
	if inner < 3 {
		inner = 3
	}
	m.viewport.Width = w - 2
	m.viewport.Height = inner
	m.input.Width = w - 6
	m.refreshViewport()
}

// =============================================================================
// GATE SCREENS
// =============================================================================

func (m Model) viewGate(w, h int) string {
	gates := m.widget.Gates()
	msgs := m.widget.Messages()

	var b strings.Builder
	b.WriteString(m.viewHeader(w))
	b.WriteString("\n\n")

	switch gates.State() {
	case gate.StateNeedsWelcome:
		b.WriteString(m.theme.GateTitle.Render(gates.WelcomeQuestion()))
		b.WriteString("\n\n")
		b.WriteString(m.input.View())

	case gate.StateNeedsCaptcha:
		b.WriteString(m.theme.GateTitle.Render(msgs.CaptchaPrompt))
		b.WriteString("\n")
		if m.challenge != nil {
			b.WriteString(m.theme.GatePrompt.Render(m.challenge.Display()))
			b.WriteString("\n\n")
			b.WriteString(m.input.View())
		} else {
			b.WriteString(m.theme.Muted.Render(msgs.CaptchaPlaceholder))
		}

	case gate.StateNeedsAgreements:
		b.WriteString(m.theme.GateTitle.Render(msgs.AgreementsTitle))
		b.WriteString("\n")
		for i, a := range gates.Agreements() {
			mark := "[ ]"
			if i < m.acceptedCount {
				mark = "[x]"
			}
			label := a.Title
			if label == "" {
				label = a.ID
			}
			if a.URL != "" {
				label += "  " + a.URL
			}
			b.WriteString(fmt.Sprintf("%s %s\n", m.theme.Success.Render(mark), m.theme.GatePrompt.Render(label)))
		}
		b.WriteString("\n")
		hint := msgs.AgreementsPlaceholder
		if m.acceptedCount >= len(gates.Agreements())-1 {
			hint = msgs.AgreementsContinue
		}
		b.WriteString(m.theme.GateHint.Render(hint))
	}

	if m.gateNotice != "" {
		b.WriteString("\n\n")
		b.WriteString(m.theme.Warning.Render(m.gateNotice))
	}

	// Pad to the window height so the frame stays stable.
	content := b.String()
	if lines := strings.Count(content, "\n"); lines < h-3 {
		content += strings.Repeat("\n", h-3-lines)
	}
	return content
}
