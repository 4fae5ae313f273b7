// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package widget

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/conversation"
	"github.com/morganforge/ragchat/internal/gate"
	"github.com/morganforge/ragchat/internal/rag"
	"github.com/morganforge/ragchat/internal/store"
)

func testConfig(t *testing.T, backendURL string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Backend.URL = backendURL
	cfg.Backend.Token = "test-token"
	cfg.Store.Dir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func newTestWidget(t *testing.T, cfg *config.Config) *Widget {
	t.Helper()
	s, err := store.NewFileStoreWithDir(cfg.Store.Dir)
	require.NoError(t, err)
	w, err := NewWithStore(cfg, s)
	require.NoError(t, err)
	t.Cleanup(func() { w.Close() })
	return w
}

func jsonDecode(r *http.Request, v interface{}) error {
	return json.NewDecoder(r.Body).Decode(v)
}

func echoServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(reply))
	}))
}

func TestSend_RoundTrip(t *testing.T) {
	server := echoServer(t, "We are open 9 to 5.")
	defer server.Close()

	w := newTestWidget(t, testConfig(t, server.URL))

	var streamed strings.Builder
	reply, err := w.Send(context.Background(), "What are your hours?", nil, func(chunk string) {
		streamed.WriteString(chunk)
	})
	require.NoError(t, err)
	assert.Equal(t, "We are open 9 to 5.", reply)
	assert.Equal(t, reply, streamed.String())

	history := w.History()
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "What are your hours?", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, reply, history[1].Content)
}

func TestSend_BusyGuard(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
		w.Write([]byte("late reply"))
	}))
	defer server.Close()

	w := newTestWidget(t, testConfig(t, server.URL))

	errCh := make(chan error, 1)
	go func() {
		_, err := w.Send(context.Background(), "first", nil, nil)
		errCh <- err
	}()
	<-started

	_, err := w.Send(context.Background(), "second", nil, nil)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, w.Messages().WaitForReply, w.Notice(err))

	close(release)
	require.NoError(t, <-errCh)
}

func TestSend_GateClosedCapturesPending(t *testing.T) {
	var gotMessages []conversation.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []conversation.Message `json:"messages"`
		}
		require.NoError(t, jsonDecode(r, &req))
		gotMessages = req.Messages
		w.Write([]byte("reply"))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Gates.AgreementsEnabled = true
	cfg.Gates.Agreements = []config.Agreement{{ID: "terms", Title: "Terms"}}
	require.NoError(t, cfg.Validate())

	w := newTestWidget(t, cfg)

	_, err := w.Send(context.Background(), "queued question", nil, nil)
	assert.ErrorIs(t, err, gate.ErrGateClosed)
	assert.Empty(t, w.History())

	require.NoError(t, w.Gates().Accept("terms"))
	require.NoError(t, w.Gates().Continue(context.Background()))

	reply, ok, err := w.DispatchPending(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "reply", reply)
	require.NotEmpty(t, gotMessages)
	assert.Equal(t, "queued question", gotMessages[len(gotMessages)-1].Content)

	// Exactly one user turn and one assistant turn recorded.
	history := w.History()
	require.Len(t, history, 2)
	assert.Equal(t, "queued question", history[0].Content)
	assert.Equal(t, "reply", history[1].Content)

	// Nothing left pending afterwards.
	_, ok, err = w.DispatchPending(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSend_WelcomeAnswerRecordedAtCapture(t *testing.T) {
	var gotMessages []conversation.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Messages []conversation.Message `json:"messages"`
		}
		require.NoError(t, jsonDecode(r, &req))
		gotMessages = req.Messages
		w.Write([]byte("glad to help"))
	}))
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Gates.WelcomeEnabled = true
	cfg.Gates.WelcomeQuestion = "What brings you here?"
	require.NoError(t, cfg.Validate())

	w := newTestWidget(t, cfg)

	// The answer lands in the transcript at capture, before dispatch.
	require.NoError(t, w.Gates().SubmitWelcome("I need pricing info"))
	history := w.History()
	require.Len(t, history, 1)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "I need pricing info", history[0].Content)

	require.True(t, w.Gates().IsOpen())
	_, ok, err := w.DispatchPending(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// Dispatch does not append the answer a second time, in the
	// request body or in the transcript.
	count := 0
	for _, m := range gotMessages {
		if m.Content == "I need pricing info" {
			count++
		}
	}
	assert.Equal(t, 1, count)

	history = w.History()
	require.Len(t, history, 2)
	assert.Equal(t, "I need pricing info", history[0].Content)
	assert.Equal(t, "glad to help", history[1].Content)
}

func TestSend_CaptchaReverifyRegressesGate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"captcha_reverify","message":"expired"}`))
	}))
	defer server.Close()

	w := newTestWidget(t, testConfig(t, server.URL))
	require.True(t, w.Gates().IsOpen())

	_, err := w.Send(context.Background(), "rejected message", nil, nil)
	require.ErrorIs(t, err, rag.ErrCaptchaRequired)

	assert.Equal(t, gate.StateNeedsCaptcha, w.Gates().State())
	// Nothing persisted for the rejected attempt.
	assert.Empty(t, w.History())
	msg, _, ok := w.Gates().TakePending()
	require.True(t, ok)
	assert.Equal(t, "rejected message", msg)
	assert.Equal(t, w.Messages().CaptchaReverify, w.Notice(err))
}

func TestSend_ReverifyRedispatchDoesNotDuplicateUserTurn(t *testing.T) {
	var requests int
	var gotMessages []conversation.Message
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests == 1 {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"error":"captcha_reverify"}`))
			return
		}
		var req struct {
			Messages []conversation.Message `json:"messages"`
		}
		require.NoError(t, jsonDecode(r, &req))
		gotMessages = req.Messages
		w.Write([]byte("final reply"))
	}))
	defer server.Close()

	w := newTestWidget(t, testConfig(t, server.URL))

	_, err := w.Send(context.Background(), "hi", nil, nil)
	require.ErrorIs(t, err, rag.ErrCaptchaRequired)

	// After the fresh challenge passes, the shell redispatches.
	_, ok, err := w.DispatchPending(context.Background(), nil, nil)
	require.NoError(t, err)
	require.True(t, ok)

	count := 0
	for _, m := range gotMessages {
		if m.Role == conversation.RoleUser && m.Content == "hi" {
			count++
		}
	}
	assert.Equal(t, 1, count, "request body carries one copy of the user turn")

	history := w.History()
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "hi", history[0].Content)
	assert.Equal(t, "final reply", history[1].Content)
}

func TestNotice_Mapping(t *testing.T) {
	server := echoServer(t, "ok")
	defer server.Close()
	w := newTestWidget(t, testConfig(t, server.URL))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"busy", ErrBusy, w.Messages().WaitForReply},
		{"rate limit default", &rag.RateLimitError{}, w.Messages().RateLimited},
		{"rate limit server message", &rag.RateLimitError{Message: "come back tomorrow"}, "come back tomorrow"},
		{"captcha", &rag.CaptchaError{}, w.Messages().CaptchaReverify},
		{"http", &rag.HTTPError{Status: 502}, w.Messages().ServerErrorf(502)},
		{"transport", context.DeadlineExceeded, w.Messages().TransportError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Notice(tt.err))
		})
	}
}

func TestClearHistory(t *testing.T) {
	server := echoServer(t, "reply")
	defer server.Close()

	cfg := testConfig(t, server.URL)
	w := newTestWidget(t, cfg)

	_, err := w.Send(context.Background(), "hello", nil, nil)
	require.NoError(t, err)
	require.NotEmpty(t, w.History())

	w.ClearHistory()
	assert.Empty(t, w.History())

	// The persisted copy is gone too.
	w2 := newTestWidget(t, cfg)
	assert.Empty(t, w2.History())
}

func TestClearHistory_ResetsGatesAndConsents(t *testing.T) {
	server := echoServer(t, "reply")
	defer server.Close()

	cfg := testConfig(t, server.URL)
	cfg.Gates.AgreementsEnabled = true
	cfg.Gates.Agreements = []config.Agreement{{ID: "terms", Title: "Terms"}}
	require.NoError(t, cfg.Validate())

	w := newTestWidget(t, cfg)

	require.NoError(t, w.Gates().Accept("terms"))
	require.NoError(t, w.Gates().Continue(context.Background()))
	require.True(t, w.Gates().IsOpen())

	_, err := w.Send(context.Background(), "hello", nil, nil)
	require.NoError(t, err)

	w.ClearHistory()
	assert.Empty(t, w.History())

	// Back to the initial gate, and the stored consent is gone with it.
	assert.False(t, w.Gates().IsOpen())
	assert.Equal(t, gate.StateNeedsAgreements, w.Gates().State())

	w2 := newTestWidget(t, cfg)
	assert.False(t, w2.Gates().IsOpen())
	assert.Equal(t, gate.StateNeedsAgreements, w2.Gates().State())
}

func TestDimensions_PersistAndClamp(t *testing.T) {
	server := echoServer(t, "ok")
	defer server.Close()

	cfg := testConfig(t, server.URL)
	w := newTestWidget(t, cfg)

	initial := w.Dimensions()
	assert.Equal(t, DefaultWidth, initial.Width)
	assert.Equal(t, DefaultHeight, initial.Height)

	got := w.SetDimensions(Dimensions{Width: 10000, Height: 1})
	assert.Equal(t, MaxWidth, got.Width)
	assert.Equal(t, MinHeight, got.Height)
	assert.False(t, got.Timestamp.IsZero())

	// A fresh instance over the same store restores the saved size.
	w2 := newTestWidget(t, cfg)
	assert.Equal(t, got, w2.Dimensions())
}

func TestSessionID_StableAcrossInstances(t *testing.T) {
	server := echoServer(t, "ok")
	defer server.Close()

	cfg := testConfig(t, server.URL)
	w := newTestWidget(t, cfg)
	id := w.SessionID()
	require.True(t, strings.HasPrefix(id, "sess_"))

	w2 := newTestWidget(t, cfg)
	assert.Equal(t, id, w2.SessionID())
}
