// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import "github.com/charmbracelet/lipgloss"

// Theme bundles the pre-built styles for the chat UI.
type Theme struct {
	// Chrome
	Header    lipgloss.Style
	StatusBar lipgloss.Style
	Border    lipgloss.Style

	// Messages
	UserMessage      lipgloss.Style
	AssistantMessage lipgloss.Style
	Notice           lipgloss.Style

	// Gate screens
	GateTitle  lipgloss.Style
	GatePrompt lipgloss.Style
	GateHint   lipgloss.Style

	// States
	Error   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
	Muted   lipgloss.Style
}

// NewTheme builds the default theme.
func NewTheme() *Theme {
	return &Theme{
		Header: lipgloss.NewStyle().
			Foreground(Cyan).
			Bold(true).
			Padding(0, 1),
		StatusBar: lipgloss.NewStyle().
			Foreground(TextSecondary).
			Background(SurfaceDim).
			Padding(0, 1),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(Overlay),

		UserMessage: lipgloss.NewStyle().
			Foreground(UserBubbleFg).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(UserBubbleBorder).
			PaddingLeft(1),
		AssistantMessage: lipgloss.NewStyle().
			Foreground(AssistantBubbleFg).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(AssistantBubbleBorder).
			PaddingLeft(1),
		Notice: lipgloss.NewStyle().
			Foreground(NoticeBubbleFg).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(NoticeBubbleBorder).
			PaddingLeft(1),

		GateTitle: lipgloss.NewStyle().
			Foreground(Purple).
			Bold(true),
		GatePrompt: lipgloss.NewStyle().
			Foreground(TextPrimary),
		GateHint: lipgloss.NewStyle().
			Foreground(TextMuted).
			Italic(true),

		Error: lipgloss.NewStyle().
			Foreground(Rose).
			Bold(true),
		Warning: lipgloss.NewStyle().
			Foreground(Amber),
		Success: lipgloss.NewStyle().
			Foreground(Emerald),
		Muted: lipgloss.NewStyle().
			Foreground(TextMuted),
	}
}
