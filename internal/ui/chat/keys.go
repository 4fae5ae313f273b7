// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen chat view for the widget.
//
// This file defines keyboard bindings for the chat interface, including
// the window-resize shortcuts that persist the chosen dimensions.
package chat

import (
	"github.com/charmbracelet/bubbles/key"
)

// KeyMap defines all keyboard bindings for the chat interface.
type KeyMap struct {
	Up       key.Binding
	Down     key.Binding
	PageUp   key.Binding
	PageDown key.Binding
	Submit   key.Binding
	Cancel   key.Binding
	Clear    key.Binding
	Quit     key.Binding

	// Window resizing (floating layout)
	Wider    key.Binding
	Narrower key.Binding
	Taller   key.Binding
	Shorter  key.Binding
}

// DefaultKeyMap returns the default key bindings for the chat interface.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Up: key.NewBinding(
			key.WithKeys("up"),
			key.WithHelp("up", "scroll up"),
		),
		Down: key.NewBinding(
			key.WithKeys("down"),
			key.WithHelp("down", "scroll down"),
		),
		PageUp: key.NewBinding(
			key.WithKeys("pgup"),
			key.WithHelp("PgUp", "page up"),
		),
		PageDown: key.NewBinding(
			key.WithKeys("pgdown"),
			key.WithHelp("PgDn", "page down"),
		),
		Submit: key.NewBinding(
			key.WithKeys("enter"),
			key.WithHelp("Enter", "send"),
		),
		Cancel: key.NewBinding(
			key.WithKeys("esc"),
			key.WithHelp("Esc", "cancel response"),
		),
		Clear: key.NewBinding(
			key.WithKeys("ctrl+l"),
			key.WithHelp("C-l", "clear history"),
		),
		Quit: key.NewBinding(
			key.WithKeys("ctrl+c"),
			key.WithHelp("C-c", "quit"),
		),
		Wider: key.NewBinding(
			key.WithKeys("ctrl+right"),
			key.WithHelp("C-right", "widen window"),
		),
		Narrower: key.NewBinding(
			key.WithKeys("ctrl+left"),
			key.WithHelp("C-left", "narrow window"),
		),
		Taller: key.NewBinding(
			key.WithKeys("ctrl+down"),
			key.WithHelp("C-down", "grow window"),
		),
		Shorter: key.NewBinding(
			key.WithKeys("ctrl+up"),
			key.WithHelp("C-up", "shrink window"),
		),
	}
}
