// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/ragchat/internal/store"
)

func TestConsentRecorder_RecordAndReload(t *testing.T) {
	dir := t.TempDir()

	r := NewConsentRecorder(newStoreAt(t, dir), testHost)
	require.NoError(t, r.Record(context.Background(), []string{"terms", "privacy"}))

	recorded := r.Recorded()
	require.Len(t, recorded, 2)
	assert.NotEmpty(t, recorded["terms"].ConsentID)
	assert.False(t, recorded["terms"].AcceptedAt.IsZero())

	// Survives a reload from the same store.
	r2 := NewConsentRecorder(newStoreAt(t, dir), testHost)
	reloaded := r2.Recorded()
	require.Len(t, reloaded, 2)
	assert.Equal(t, recorded["terms"].ConsentID, reloaded["terms"].ConsentID)
}

func TestConsentRecorder_RecordIsIdempotent(t *testing.T) {
	r := NewConsentRecorder(newTestStore(t), testHost)

	require.NoError(t, r.Record(context.Background(), []string{"terms"}))
	first := r.Recorded()["terms"].ConsentID

	require.NoError(t, r.Record(context.Background(), []string{"terms"}))
	assert.Equal(t, first, r.Recorded()["terms"].ConsentID)
}

func TestConsentRecorder_ReportsAcceptances(t *testing.T) {
	var reports []consentReport
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var rep consentReport
		require.NoError(t, json.NewDecoder(r.Body).Decode(&rep))
		reports = append(reports, rep)
	}))
	defer server.Close()

	r := NewConsentRecorder(newTestStore(t), testHost).
		WithReporting(server.URL, "t", "sess-1")
	require.NoError(t, r.Record(context.Background(), []string{"terms", "privacy"}))

	// One POST carrying every fresh acceptance.
	require.Len(t, reports, 1)
	assert.Equal(t, "sess-1", reports[0].SessionID)
	require.Len(t, reports[0].Consents, 2)
	assert.Equal(t, "terms", reports[0].Consents[0].ID)
	assert.True(t, reports[0].Consents[0].Accepted)
	assert.False(t, reports[0].Consents[0].Timestamp.IsZero())
}

func TestConsentRecorder_AlreadyRecordedNotReported(t *testing.T) {
	var posts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		posts++
	}))
	defer server.Close()

	r := NewConsentRecorder(newTestStore(t), testHost).
		WithReporting(server.URL, "t", "sess-1")
	require.NoError(t, r.Record(context.Background(), []string{"terms"}))
	require.NoError(t, r.Record(context.Background(), []string{"terms"}))

	assert.Equal(t, 1, posts)
}

func TestConsentRecorder_ReportFailureDoesNotBlock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewConsentRecorder(newTestStore(t), testHost).
		WithReporting(server.URL, "t", "sess-1")
	assert.NoError(t, r.Record(context.Background(), []string{"terms"}))
	assert.Len(t, r.Recorded(), 1)
}

func TestConsentRecorder_CorruptRecordStartsEmpty(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Set(store.ConsentKey(testHost), []byte("{not json")))

	r := NewConsentRecorder(s, testHost)
	assert.Empty(t, r.Recorded())
}

func TestConsentRecorder_Clear(t *testing.T) {
	s := newTestStore(t)
	r := NewConsentRecorder(s, testHost)
	require.NoError(t, r.Record(context.Background(), []string{"terms"}))

	require.NoError(t, r.Clear())
	assert.Empty(t, r.Recorded())
	_, ok := s.Get(store.ConsentKey(testHost))
	assert.False(t, ok)
}
