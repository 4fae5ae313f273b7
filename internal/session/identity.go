// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/ragchat/internal/store"
)

// IDPrefix identifies ragchat session tokens.
const IDPrefix = "sess_"

// =============================================================================
// SESSION IDENTITY
// =============================================================================

// Identity hands out the per-installation session id. The first call
// generates and persists a token; every later call (including after a
// restart) returns the same value until the store is cleared externally.
type Identity struct {
	mu    sync.Mutex
	store store.Store

	// cached avoids re-reading the store on every request.
	cached string
}

// NewIdentity creates an Identity backed by s.
func NewIdentity(s store.Store) *Identity {
	return &Identity{store: s}
}

// GetOrCreate returns the session id, generating and persisting a fresh
// one if none exists. It has no failure mode: if the persist fails the
// generated id is still returned and the next run simply mints another
// (uniqueness is best-effort by design).
func (i *Identity) GetOrCreate() string {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.cached != "" {
		return i.cached
	}

	if data, ok := i.store.Get(store.KeySessionID); ok {
		id := strings.TrimSpace(string(data))
		if strings.HasPrefix(id, IDPrefix) {
			i.cached = id
			return id
		}
		// Unrecognized token: treat as no data and regenerate.
	}

	id := generateID()
	if err := i.store.Set(store.KeySessionID, []byte(id)); err != nil {
		// Persist failure degrades to a per-run id; not worth surfacing.
		return id
	}
	i.cached = id
	return id
}

// generateID builds an opaque token from time plus randomness.
// Time-sortable for backend log correlation, random for uniqueness.
func generateID() string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%s%d_%s", IDPrefix, time.Now().UnixMilli(), random[:12])
}
