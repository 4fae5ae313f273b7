// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"strings"
	"testing"

	"github.com/morganforge/ragchat/internal/store"
)

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.NewFileStoreWithDir(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}

func TestIdentity_GetOrCreate(t *testing.T) {
	s := newTestStore(t)
	id := NewIdentity(s).GetOrCreate()

	if !strings.HasPrefix(id, IDPrefix) {
		t.Errorf("session id %q should start with %q", id, IDPrefix)
	}
	if len(id) <= len(IDPrefix) {
		t.Error("session id should have content beyond the prefix")
	}

	// Persisted immediately
	data, ok := s.Get(store.KeySessionID)
	if !ok {
		t.Fatal("session id should be persisted on first call")
	}
	if string(data) != id {
		t.Errorf("persisted id %q != returned id %q", data, id)
	}
}

func TestIdentity_StableAcrossInstances(t *testing.T) {
	s := newTestStore(t)

	first := NewIdentity(s).GetOrCreate()
	second := NewIdentity(s).GetOrCreate()

	if first != second {
		t.Errorf("session id changed across instances: %q != %q", first, second)
	}
}

func TestIdentity_RegeneratedAfterClear(t *testing.T) {
	s := newTestStore(t)

	ident := NewIdentity(s)
	first := ident.GetOrCreate()

	s.Remove(store.KeySessionID)

	fresh := NewIdentity(s).GetOrCreate()
	if fresh == first {
		t.Error("clearing the store should yield a fresh session id")
	}
}

func TestIdentity_IgnoresForeignToken(t *testing.T) {
	s := newTestStore(t)
	s.Set(store.KeySessionID, []byte("not-a-session-token"))

	id := NewIdentity(s).GetOrCreate()
	if !strings.HasPrefix(id, IDPrefix) {
		t.Errorf("foreign token should be replaced, got %q", id)
	}
}
