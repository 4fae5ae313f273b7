// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

// =============================================================================
// STORAGE KEYS
// =============================================================================

// Fixed storage keys. The names are carried over from the widget's
// localStorage layout so state written by older deployments restores.
const (
	// KeyHistory holds the conversation history (JSON array of messages).
	KeyHistory = "ragChatHistory"

	// KeyDimensions holds the floating-window dimensions.
	KeyDimensions = "ragChatDimensions"

	// KeySessionID holds the per-browser session identity token.
	KeySessionID = "ragChatSessionId"

	// consentKeyPrefix namespaces consent records per hostname.
	consentKeyPrefix = "ragChatConsents."
)

// ConsentKey returns the hostname-scoped key for consent records.
func ConsentKey(hostname string) string {
	return consentKeyPrefix + hostname
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a namespaced key-value store for widget state.
//
// Get never fails: missing keys and read errors both report ok=false.
// Set and Remove report errors so callers can decide whether a failed
// persist matters (for the widget it is logged and ignored).
type Store interface {
	// Get returns the value for key, or ok=false if absent or unreadable.
	Get(key string) (value []byte, ok bool)

	// Set writes the value for key, replacing any previous value.
	Set(key string, value []byte) error

	// Remove deletes the key. Removing an absent key is not an error.
	Remove(key string) error

	// Close releases backend resources.
	Close() error
}
