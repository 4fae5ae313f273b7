// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation provides the widget's ordered message log:
// bounded, persisted after every mutation, and restored on load.
package conversation

import (
	"encoding/json"
	"sync"

	"github.com/morganforge/ragchat/internal/store"
)

// MaxHistory bounds the persisted conversation. When the log grows past
// this, the oldest entries are evicted first (FIFO).
const MaxHistory = 40

// Message roles on the wire.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one conversation turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// NewUserMessage creates a user turn.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant turn.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// =============================================================================
// CONVERSATION LOG
// =============================================================================

// Log owns the ordered message sequence for one widget instance.
//
// Invariant: the persisted representation equals the in-memory slice
// immediately after every Append or Clear. There is no write-behind.
type Log struct {
	mu       sync.Mutex
	store    store.Store
	messages []Message
}

// NewLog creates a log backed by s and restores any persisted history.
// Malformed or missing persisted data yields an empty log.
func NewLog(s store.Store) *Log {
	l := &Log{store: s}
	l.Load()
	return l
}

// Load re-reads the persisted history, replacing the in-memory
// sequence. It fails soft: corrupt or absent data leaves an empty log
// and never returns an error.
func (l *Log) Load() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	if data, ok := l.store.Get(store.KeyHistory); ok {
		var restored []Message
		if err := json.Unmarshal(data, &restored); err == nil {
			if len(restored) > MaxHistory {
				restored = restored[len(restored)-MaxHistory:]
			}
			l.messages = restored
		}
	}

	return l.snapshotLocked()
}

// Append adds msg at the end, evicts from the front past MaxHistory,
// and persists the full sequence before returning.
func (l *Log) Append(msg Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = append(l.messages, msg)
	if len(l.messages) > MaxHistory {
		l.messages = l.messages[len(l.messages)-MaxHistory:]
	}
	l.persistLocked()
}

// Clear empties the sequence and removes the persisted record.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
	l.store.Remove(store.KeyHistory)
}

// Messages returns a copy of the current sequence in conversation order.
func (l *Log) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.messages)
}

func (l *Log) snapshotLocked() []Message {
	out := make([]Message, len(l.messages))
	copy(out, l.messages)
	return out
}

// persistLocked mirrors the in-memory sequence to the store. A persist
// failure leaves the in-memory log authoritative for this run; the
// error is intentionally dropped (persistence fails soft end to end).
func (l *Log) persistLocked() {
	data, err := json.Marshal(l.messages)
	if err != nil {
		return
	}
	_ = l.store.Set(store.KeyHistory, data)
}
