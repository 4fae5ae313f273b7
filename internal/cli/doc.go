// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the plain-terminal chat shell.
//
// The shell is a readline-style REPL: gate flows run inline as
// prompts, replies stream to stdout as they arrive, and markdown is
// rendered when stdout is a TTY. It is the fallback surface for
// environments where the full-screen UI is unwanted (pipes, CI,
// minimal terminals).
package cli
