// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/morganforge/ragchat/internal/store"
)

// ConsentRecord is one accepted agreement, persisted locally per
// hostname.
type ConsentRecord struct {
	// ConsentID uniquely identifies this acceptance.
	ConsentID string `json:"consentId"`
	// AcceptedAt is when the visitor accepted the agreement.
	AcceptedAt time.Time `json:"acceptedAt"`
}

// consentReport is the best-effort acceptance notification POSTed to
// the agreements endpoint.
type consentReport struct {
	SessionID string               `json:"sessionId"`
	Consents  []consentReportEntry `json:"consents"`
}

type consentReportEntry struct {
	ID        string    `json:"id"`
	Accepted  bool      `json:"accepted"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsentRecorder persists agreement acceptances, keyed by agreement ID
// and scoped to a hostname so consents on one deployment never leak to
// another.
type ConsentRecorder struct {
	mu       sync.Mutex
	store    store.Store
	hostname string
	records  map[string]*ConsentRecord

	// reportURL, when set, receives one POST per batch of fresh
	// acceptances. Reporting is best-effort: failures never block the
	// gate since the local record is authoritative.
	reportURL  string
	token      string
	sessionID  string
	httpClient *http.Client
}

// NewConsentRecorder loads any previously recorded consents for the
// hostname. A corrupt or unreadable record starts empty.
func NewConsentRecorder(s store.Store, hostname string) *ConsentRecorder {
	r := &ConsentRecorder{
		store:    s,
		hostname: hostname,
		records:  make(map[string]*ConsentRecord),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	if data, ok := s.Get(store.ConsentKey(hostname)); ok {
		var records map[string]*ConsentRecord
		if err := json.Unmarshal(data, &records); err == nil && records != nil {
			r.records = records
		}
	}
	return r
}

// WithReporting enables best-effort acceptance reporting to the given
// endpoint. sessionID identifies the reporting session in the body.
func (r *ConsentRecorder) WithReporting(url, token, sessionID string) *ConsentRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reportURL = url
	r.token = token
	r.sessionID = sessionID
	return r
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (r *ConsentRecorder) WithHTTPClient(hc *http.Client) *ConsentRecorder {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.httpClient = hc
	return r
}

// Recorded returns a copy of the persisted consents by agreement ID.
func (r *ConsentRecorder) Recorded() map[string]*ConsentRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*ConsentRecord, len(r.records))
	for id, rec := range r.records {
		out[id] = rec
	}
	return out
}

// Record persists fresh acceptances for the given agreement IDs and
// reports each to the backend best-effort. Local persistence failure is
// returned; reporting failure is not.
func (r *ConsentRecorder) Record(ctx context.Context, agreementIDs []string) error {
	r.mu.Lock()

	now := time.Now().UTC()
	var fresh []consentReportEntry
	for _, id := range agreementIDs {
		if r.records[id] != nil {
			continue
		}
		rec := &ConsentRecord{
			ConsentID:  uuid.NewString(),
			AcceptedAt: now,
		}
		r.records[id] = rec
		fresh = append(fresh, consentReportEntry{
			ID:        id,
			Accepted:  true,
			Timestamp: rec.AcceptedAt,
		})
	}

	data, err := json.Marshal(r.records)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("failed to marshal consents: %w", err)
	}
	persistErr := r.store.Set(store.ConsentKey(r.hostname), data)
	reportURL, token, sessionID, hc := r.reportURL, r.token, r.sessionID, r.httpClient
	r.mu.Unlock()

	if persistErr != nil {
		return fmt.Errorf("failed to persist consents: %w", persistErr)
	}

	if reportURL != "" && len(fresh) > 0 {
		r.report(ctx, hc, reportURL, token, consentReport{SessionID: sessionID, Consents: fresh})
	}
	return nil
}

// report sends the fresh acceptances to the backend, ignoring failures.
func (r *ConsentRecorder) report(ctx context.Context, hc *http.Client, url, token string, body consentReport) {
	data, err := json.Marshal(body)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := hc.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// Clear removes all recorded consents for the hostname.
func (r *ConsentRecorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]*ConsentRecord)
	return r.store.Remove(store.ConsentKey(r.hostname))
}
