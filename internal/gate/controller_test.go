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

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/store"
)

const testHost = "example.com"

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	return newStoreAt(t, t.TempDir())
}

func newStoreAt(t *testing.T, dir string) store.Store {
	t.Helper()
	s, err := store.NewFileStoreWithDir(dir)
	require.NoError(t, err)
	return s
}

func allGates() config.GatesConfig {
	return config.GatesConfig{
		WelcomeEnabled:    true,
		WelcomeQuestion:   "What brings you here today?",
		CaptchaEnabled:    true,
		AgreementsEnabled: true,
		Agreements: []config.Agreement{
			{ID: "terms", Title: "Terms of Service"},
			{ID: "privacy", Title: "Privacy Policy"},
		},
	}
}

// captchaServer issues challenges and accepts one specific answer.
func captchaServer(t *testing.T, correctAnswer string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet:
			json.NewEncoder(w).Encode(Challenge{Token: "ch-1", Image: "data:image/png;base64,xxxx"})
		case r.Method == http.MethodPost:
			var vr verifyRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&vr))
			require.Equal(t, "ch-1", vr.Token)
			if vr.Answer == correctAnswer {
				json.NewEncoder(w).Encode(verifyResponse{Success: true, NewToken: "cap-token-1"})
				return
			}
			json.NewEncoder(w).Encode(verifyResponse{Success: false, Error: "wrong answer"})
		}
	}))
}

func TestNewController_InitialState(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.GatesConfig
		want State
	}{
		{"all disabled", config.GatesConfig{}, StateOpen},
		{"welcome first", allGates(), StateNeedsWelcome},
		{
			"captcha only",
			config.GatesConfig{CaptchaEnabled: true},
			StateNeedsCaptcha,
		},
		{
			"agreements only",
			config.GatesConfig{AgreementsEnabled: true, Agreements: []config.Agreement{{ID: "terms"}}},
			StateNeedsAgreements,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(tt.cfg, testHost, newTestStore(t))
			assert.Equal(t, tt.want, c.State())
		})
	}
}

func TestSubmitWelcome_CapturesPendingAndAdvances(t *testing.T) {
	c := NewController(allGates(), testHost, newTestStore(t))

	require.NoError(t, c.SubmitWelcome("  I need pricing info  "))
	assert.Equal(t, StateNeedsCaptcha, c.State())

	msg, inLog, ok := c.TakePending()
	require.True(t, ok)
	assert.Equal(t, "I need pricing info", msg)
	assert.False(t, inLog)

	// Exactly once.
	_, _, ok = c.TakePending()
	assert.False(t, ok)
}

func TestSubmitWelcome_RecordsAnswerAtCapture(t *testing.T) {
	var recorded []string
	c := NewController(allGates(), testHost, newTestStore(t)).
		WithWelcomeRecorder(func(answer string) {
			recorded = append(recorded, answer)
		})

	require.NoError(t, c.SubmitWelcome("I need pricing info"))

	// The answer reaches the conversation log immediately, and the
	// pending message is marked so dispatch does not append it again.
	assert.Equal(t, []string{"I need pricing info"}, recorded)
	msg, inLog, ok := c.TakePending()
	require.True(t, ok)
	assert.Equal(t, "I need pricing info", msg)
	assert.True(t, inLog)
}

func TestSubmitWelcome_Validation(t *testing.T) {
	c := NewController(allGates(), testHost, newTestStore(t))

	assert.ErrorIs(t, c.SubmitWelcome("   "), ErrEmptyAnswer)

	require.NoError(t, c.SubmitWelcome("hello"))
	assert.ErrorIs(t, c.SubmitWelcome("again"), ErrWrongState)
}

func TestSubmitWelcome_SkipsDisabledGates(t *testing.T) {
	cfg := config.GatesConfig{WelcomeEnabled: true, WelcomeQuestion: "Hi?"}
	c := NewController(cfg, testHost, newTestStore(t))

	require.NoError(t, c.SubmitWelcome("hello"))
	assert.Equal(t, StateOpen, c.State())
}

func TestVerifyCaptcha_SuccessAdvances(t *testing.T) {
	server := captchaServer(t, "4")
	defer server.Close()

	cfg := config.GatesConfig{CaptchaEnabled: true}
	c := NewController(cfg, testHost, newTestStore(t)).
		WithCaptchaClient(NewCaptchaClient(server.URL, "t"))

	ch, err := c.Challenge(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ch-1", ch.Token)
	assert.NotEmpty(t, ch.Image)

	ok, err := c.VerifyCaptcha(context.Background(), ch.Token, "4")
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, "cap-token-1", c.TakeCaptchaToken())
}

func TestVerifyCaptcha_WrongAnswerStays(t *testing.T) {
	server := captchaServer(t, "4")
	defer server.Close()

	cfg := config.GatesConfig{CaptchaEnabled: true}
	c := NewController(cfg, testHost, newTestStore(t)).
		WithCaptchaClient(NewCaptchaClient(server.URL, "t"))

	ok, err := c.VerifyCaptcha(context.Background(), "ch-1", "5")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateNeedsCaptcha, c.State())
	assert.Empty(t, c.TakeCaptchaToken())

	// A correct answer on the next attempt still opens the gate.
	ok, err = c.VerifyCaptcha(context.Background(), "ch-1", "4")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StateOpen, c.State())
	assert.Equal(t, "cap-token-1", c.TakeCaptchaToken())
}

func TestTakeCaptchaToken_ConsumesToken(t *testing.T) {
	server := captchaServer(t, "4")
	defer server.Close()

	cfg := config.GatesConfig{CaptchaEnabled: true}
	c := NewController(cfg, testHost, newTestStore(t)).
		WithCaptchaClient(NewCaptchaClient(server.URL, "t"))

	ok, err := c.VerifyCaptcha(context.Background(), "ch-1", "4")
	require.NoError(t, err)
	require.True(t, ok)

	// One token per verification: the first take hands it out, the
	// second request goes without one. The gate stays open until the
	// server objects.
	assert.Equal(t, "cap-token-1", c.TakeCaptchaToken())
	assert.Empty(t, c.TakeCaptchaToken())
	assert.Equal(t, StateOpen, c.State())
}

func TestAgreements_ContinueRequiresAll(t *testing.T) {
	cfg := allGates()
	cfg.WelcomeEnabled = false
	cfg.CaptchaEnabled = false

	c := NewController(cfg, testHost, newTestStore(t))
	require.Equal(t, StateNeedsAgreements, c.State())

	assert.ErrorIs(t, c.Continue(context.Background()), ErrAgreementsIncomplete)

	require.NoError(t, c.Accept("terms"))
	assert.ErrorIs(t, c.Continue(context.Background()), ErrAgreementsIncomplete)

	require.NoError(t, c.Accept("privacy"))
	require.NoError(t, c.Continue(context.Background()))
	assert.Equal(t, StateOpen, c.State())
}

func TestAgreements_UnknownIDRejected(t *testing.T) {
	cfg := allGates()
	cfg.WelcomeEnabled = false
	cfg.CaptchaEnabled = false

	c := NewController(cfg, testHost, newTestStore(t))
	assert.Error(t, c.Accept("marketing"))
}

func TestAgreements_RecordedConsentsSkipGate(t *testing.T) {
	cfg := allGates()
	cfg.WelcomeEnabled = false
	cfg.CaptchaEnabled = false

	dir := t.TempDir()

	c := NewController(cfg, testHost, newStoreAt(t, dir))
	require.NoError(t, c.Accept("terms"))
	require.NoError(t, c.Accept("privacy"))
	require.NoError(t, c.Continue(context.Background()))

	// A fresh controller over the same store sees the consents.
	c2 := NewController(cfg, testHost, newStoreAt(t, dir))
	assert.Equal(t, StateOpen, c2.State())

	// A different hostname does not.
	c3 := NewController(cfg, "other.example.net", newStoreAt(t, dir))
	assert.Equal(t, StateNeedsAgreements, c3.State())
}

func TestRequireCaptcha_RegressesAndPreservesMessage(t *testing.T) {
	server := captchaServer(t, "4")
	defer server.Close()

	cfg := config.GatesConfig{CaptchaEnabled: true}
	c := NewController(cfg, testHost, newTestStore(t)).
		WithCaptchaClient(NewCaptchaClient(server.URL, "t"))

	ok, err := c.VerifyCaptcha(context.Background(), "ch-1", "4")
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, c.IsOpen())

	c.RequireCaptcha("the rejected message", true)

	assert.Equal(t, StateNeedsCaptcha, c.State())
	assert.Empty(t, c.TakeCaptchaToken())
	msg, inLog, ok2 := c.TakePending()
	require.True(t, ok2)
	assert.Equal(t, "the rejected message", msg)
	assert.True(t, inLog)
}

func TestReset_ReturnsToInitialGateAndForcesReconsent(t *testing.T) {
	cfg := allGates()
	cfg.WelcomeEnabled = false
	cfg.CaptchaEnabled = false

	dir := t.TempDir()
	c := NewController(cfg, testHost, newStoreAt(t, dir))
	require.NoError(t, c.Accept("terms"))
	require.NoError(t, c.Accept("privacy"))
	require.NoError(t, c.Continue(context.Background()))

	c.SetPending("queued")
	c.Reset()

	// Recorded consents are deleted, so the agreements gate is back.
	assert.Equal(t, StateNeedsAgreements, c.State())
	_, _, ok := c.TakePending()
	assert.False(t, ok)

	// The deletion is persisted: a fresh controller sees no consents.
	c2 := NewController(cfg, testHost, newStoreAt(t, dir))
	assert.Equal(t, StateNeedsAgreements, c2.State())
}
