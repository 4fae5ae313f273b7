// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen chat view for the widget.
package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/gate"
	"github.com/morganforge/ragchat/internal/render"
	"github.com/morganforge/ragchat/internal/ui/styles"
	"github.com/morganforge/ragchat/internal/widget"
)

// =============================================================================
// CHAT STATE
// =============================================================================

// State represents the current state of the chat view.
type State int

const (
	StateGate      State = iota // An access gate is active
	StateReady                  // Ready for input
	StateStreaming              // Receiving streaming response
)

// =============================================================================
// CHAT MODEL
// =============================================================================

// Model is the Bubble Tea model for the chat view.
type Model struct {
	// State
	state State

	// Styling
	theme *styles.Theme

	// Widget core
	widget   *widget.Widget
	renderer *render.Renderer
	layout   string

	// Terminal dimensions
	termWidth  int
	termHeight int

	// Chat window dimensions (persisted)
	dims widget.Dimensions

	// Gate flow
	challenge     *gate.Challenge
	gateNotice    string
	acceptedCount int

	// Streaming
	streamingBuffer *StreamingBuffer
	streamingText   string
	wakeCh          chan struct{}
	doneCh          chan sendResult
	cancelStream    context.CancelFunc

	// Inline notice shown in place of an assistant turn
	notice string

	// UI Components
	viewport viewport.Model
	input    textinput.Model
	spinner  spinner.Model

	keyMap KeyMap
}

// sendResult carries the outcome of a completed stream.
type sendResult struct {
	reply string
	err   error
}

// New creates a new chat model over a widget instance.
func New(w *widget.Widget, layout string) Model {
	theme := styles.NewTheme()
	msgs := w.Messages()

	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = msgs.InputPlaceholder
	ti.CharLimit = 4096
	ti.Focus()

	vp := viewport.New(80, 20)
	vp.SetContent("")

	// ASCII-compatible spinner animation
	sp := spinner.New()
	sp.Spinner = spinner.Spinner{
		Frames: []string{"|", "/", "-", "\\"},
		FPS:    time.Second / 30,
	}

	state := StateReady
	if !w.Gates().IsOpen() {
		state = StateGate
	}

	m := Model{
		state:           state,
		theme:           theme,
		widget:          w,
		renderer:        render.New(render.DefaultWrap),
		layout:          layout,
		dims:            w.Dimensions(),
		streamingBuffer: NewStreamingBuffer(),
		viewport:        vp,
		input:           ti,
		spinner:         sp,
		keyMap:          DefaultKeyMap(),
	}
	m.refreshViewport()
	return m
}

// Layout returns the active layout mode.
func (m Model) Layout() string {
	if m.layout == "" {
		return config.LayoutFloating
	}
	return m.layout
}

// chatSize returns the chat window size for the current layout,
// bounded by the terminal.
func (m Model) chatSize() (w, h int) {
	w, h = m.dims.Width, m.dims.Height
	switch m.Layout() {
	case config.LayoutSidebar:
		h = m.termHeight
	case config.LayoutShowcase:
		w = m.termWidth
		h = m.termHeight
	}
	if m.termWidth > 0 && w > m.termWidth {
		w = m.termWidth
	}
	if m.termHeight > 0 && h > m.termHeight {
		h = m.termHeight
	}
	return w, h
}
