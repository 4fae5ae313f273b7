// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides the local persistence adapter for the chat
// widget: a small key-value store standing in for browser localStorage.
//
// Values are opaque byte slices (JSON blobs in practice). Reads are
// tolerant by contract: a missing or unreadable key reports ok=false
// and never returns an error to the caller.
//
// # Backends
//
//   - FileStore: one JSON file per key with atomic write-rename
//   - SQLiteStore: a single kv table (pure-Go modernc.org/sqlite)
//
// # Keys
//
// Fixed keys mirror the widget's localStorage layout: conversation
// history, window dimensions, session identity, plus one
// hostname-scoped key for consent records.
//
// # Concurrent instances
//
// Two widget instances sharing a store race on read-modify-write of
// history and consents; the last writer wins. The file backend offers a
// Watcher so an instance can reload keys another instance rewrote.
package store
