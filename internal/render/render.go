// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package render turns assistant markdown into terminal output.
//
// Assistant replies arrive as markdown and are rendered with glamour
// when the terminal supports styling. Rendering is best-effort: any
// renderer failure falls back to the raw text so a reply is never
// swallowed by a formatting problem.
package render

import (
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// DefaultWrap is the word-wrap width used when the caller does not
// know the terminal width.
const DefaultWrap = 80

// Renderer renders assistant markdown for display.
type Renderer struct {
	tr    *glamour.TermRenderer
	plain bool
}

// New builds a renderer wrapping at the given width. Width <= 0 uses
// DefaultWrap. On terminals without color support (or when glamour
// fails to initialize) the renderer degrades to plain text.
func New(width int) *Renderer {
	if width <= 0 {
		width = DefaultWrap
	}
	if termenv.ColorProfile() == termenv.Ascii {
		return &Renderer{plain: true}
	}
	tr, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return &Renderer{plain: true}
	}
	return &Renderer{tr: tr}
}

// Markdown renders md for the terminal. Failures return the input
// unchanged.
func (r *Renderer) Markdown(md string) string {
	if r.plain || r.tr == nil {
		return md
	}
	out, err := r.tr.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n") + "\n"
}
