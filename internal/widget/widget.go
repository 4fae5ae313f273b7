// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package widget wires the chat widget together: persistence, session
// identity, conversation log, access gates, and the streaming backend
// client, behind one embeddable controller.
//
// A widget instance allows one in-flight request at a time. A send
// attempted while a response is still streaming fails with ErrBusy and
// the shell shows a wait notice instead.
package widget

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/conversation"
	"github.com/morganforge/ragchat/internal/gate"
	"github.com/morganforge/ragchat/internal/locale"
	"github.com/morganforge/ragchat/internal/rag"
	"github.com/morganforge/ragchat/internal/session"
	"github.com/morganforge/ragchat/internal/store"
	"github.com/morganforge/ragchat/internal/util"
)

// ErrBusy indicates a send while a previous request is still streaming.
var ErrBusy = errors.New("previous response still in progress")

// Dimension bounds for the chat window, in terminal cells.
const (
	MinWidth  = 40
	MaxWidth  = 200
	MinHeight = 10
	MaxHeight = 80

	DefaultWidth  = 80
	DefaultHeight = 24
)

// Dimensions is the persisted chat window size. Timestamp records the
// last user-driven resize.
type Dimensions struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	Timestamp time.Time `json:"timestamp"`
}

// Widget is one embedded chat instance.
type Widget struct {
	cfg   *config.Config
	msgs  locale.Catalog
	store store.Store

	log      *conversation.Log
	identity *session.Identity
	gates    *gate.Controller
	client   *rag.Client

	// watcher reloads the log when another instance sharing the store
	// writes history. Last write wins.
	watcher *store.Watcher

	mu       sync.Mutex
	inFlight bool
}

// New builds a widget from configuration, opening the persistence
// backend and restoring any prior conversation, session identity, and
// recorded consents.
func New(cfg *config.Config) (*Widget, error) {
	s, err := openStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return NewWithStore(cfg, s)
}

// NewWithStore builds a widget over an existing store (used in tests
// and by embedders that share a store between instances).
func NewWithStore(cfg *config.Config, s store.Store) (*Widget, error) {
	hostname := cfg.ConsentHostname()
	log := conversation.NewLog(s)
	identity := session.NewIdentity(s)

	gates := gate.NewController(cfg.Gates, hostname, s).
		WithWelcomeRecorder(func(answer string) {
			log.Append(conversation.NewUserMessage(answer))
		}).
		WithConsentReporting(cfg.ConsentURL(), cfg.Backend.Token, identity.GetOrCreate())
	// Wired even when the captcha gate is off: the backend can demand a
	// challenge mid-conversation regardless of local gate config.
	gates.WithCaptchaClient(
		gate.NewCaptchaClient(cfg.CaptchaURL(), cfg.Backend.Token).
			WithAgentID(cfg.Backend.AgentID))

	client := rag.NewClient(cfg.StreamURL(), cfg.Backend.Token).
		WithTuning(cfg.Chat.MaxSimilarNumber, cfg.Chat.LastMessagesContextNumber).
		WithCaptchaTokenSource(gates.TakeCaptchaToken)

	w := &Widget{
		cfg:      cfg,
		msgs:     locale.Pick(cfg.Locale),
		store:    s,
		log:      log,
		identity: identity,
		gates:    gates,
		client:   client,
	}

	// File-backed stores can be shared between instances; pick up
	// history written by the other one.
	if fs, ok := s.(*store.FileStore); ok {
		w.watcher, _ = fs.Watch(func(key string) {
			if key == store.KeyHistory {
				w.log.Load()
			}
		})
	}
	return w, nil
}

func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "sqlite":
		if cfg.Store.Dir != "" {
			return store.NewSQLiteStoreWithPath(filepath.Join(cfg.Store.Dir, "state.db"))
		}
		return store.NewSQLiteStore()
	default:
		if cfg.Store.Dir != "" {
			return store.NewFileStoreWithDir(cfg.Store.Dir)
		}
		return store.NewFileStore()
	}
}

// Messages returns the localized widget copy.
func (w *Widget) Messages() locale.Catalog { return w.msgs }

// Gates returns the gate controller for shell-driven gate flows.
func (w *Widget) Gates() *gate.Controller { return w.gates }

// History returns a copy of the visible conversation.
func (w *Widget) History() []conversation.Message { return w.log.Messages() }

// SessionID returns the stable session identifier, creating one on
// first use.
func (w *Widget) SessionID() string { return w.identity.GetOrCreate() }

// Close stops the store watcher and releases the persistence backend.
func (w *Widget) Close() error {
	if w.watcher != nil {
		w.watcher.Close()
	}
	return w.store.Close()
}

// =============================================================================
// SENDING
// =============================================================================

// Send submits a user message and streams the reply. The user and
// assistant turns are appended to the log only when the stream
// completes (or drops mid-way with partial content); a rejected
// request leaves the log untouched so a redispatch never duplicates
// the user turn. onChunk receives each chunk as it arrives.
//
// When the gates are still closed the message is captured as pending
// and gate.ErrGateClosed is returned; the shell runs the gate flow and
// calls DispatchPending afterwards.
func (w *Widget) Send(ctx context.Context, text string, onStarted func(), onChunk rag.StreamCallback) (string, error) {
	if !w.gates.IsOpen() {
		w.gates.SetPending(text)
		return "", gate.ErrGateClosed
	}
	return w.send(ctx, text, false, onStarted, onChunk)
}

// send runs one request. userInLog marks a message already appended to
// the log at capture (the welcome answer) whose turn must not be
// appended again.
func (w *Widget) send(ctx context.Context, text string, userInLog bool, onStarted func(), onChunk rag.StreamCallback) (string, error) {
	w.mu.Lock()
	if w.inFlight {
		w.mu.Unlock()
		return "", ErrBusy
	}
	w.inFlight = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.inFlight = false
		w.mu.Unlock()
	}()

	history := w.log.Messages()
	if !userInLog {
		history = append(history, conversation.NewUserMessage(text))
	}

	var started rag.StartedCallback
	if onStarted != nil {
		started = func(*http.Response) { onStarted() }
	}

	reply, err := w.client.Send(ctx, history, w.SessionID(), started, onChunk)
	if err != nil {
		if errors.Is(err, rag.ErrCaptchaRequired) {
			// The message stays pending and is redispatched once the
			// fresh challenge is passed.
			w.gates.RequireCaptcha(text, userInLog)
			return reply, err
		}
		// A dropped stream keeps whatever arrived before the failure.
		var streamErr *rag.StreamError
		if errors.As(err, &streamErr) && streamErr.Partial != "" {
			if !userInLog {
				w.log.Append(conversation.NewUserMessage(text))
			}
			w.log.Append(conversation.NewAssistantMessage(streamErr.Partial))
		}
		return reply, err
	}

	if !userInLog {
		w.log.Append(conversation.NewUserMessage(text))
	}
	w.log.Append(conversation.NewAssistantMessage(reply))
	return reply, nil
}

// DispatchPending sends the message captured while the gates were
// closed, if any. Returns ok=false when nothing was pending.
func (w *Widget) DispatchPending(ctx context.Context, onStarted func(), onChunk rag.StreamCallback) (reply string, ok bool, err error) {
	msg, inLog, has := w.gates.TakePending()
	if !has {
		return "", false, nil
	}
	reply, err = w.send(ctx, msg, inLog, onStarted, onChunk)
	return reply, true, err
}

// Notice maps a send failure to the localized notice the shell should
// show in place of an assistant turn.
func (w *Widget) Notice(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrBusy):
		return w.msgs.WaitForReply
	case errors.Is(err, rag.ErrCaptchaRequired):
		return w.msgs.CaptchaReverify
	case errors.Is(err, rag.ErrRateLimited):
		var rlErr *rag.RateLimitError
		if errors.As(err, &rlErr) && rlErr.Message != "" {
			return rlErr.Message
		}
		return w.msgs.RateLimited
	default:
		var httpErr *rag.HTTPError
		if errors.As(err, &httpErr) {
			return w.msgs.ServerErrorf(httpErr.Status)
		}
		return w.msgs.TransportError
	}
}

// ClearHistory wipes the visible conversation and its persisted copy,
// returns the gates to the initial state, and deletes the recorded
// consents so the agreements must be accepted again.
func (w *Widget) ClearHistory() {
	w.log.Clear()
	w.gates.Reset()
}

// =============================================================================
// DIMENSIONS
// =============================================================================

// Dimensions returns the persisted chat window size, clamped to the
// allowed bounds. Missing or corrupt state yields the defaults.
func (w *Widget) Dimensions() Dimensions {
	d := Dimensions{Width: DefaultWidth, Height: DefaultHeight}
	if w.cfg.UI.Width > 0 {
		d.Width = w.cfg.UI.Width
	}
	if w.cfg.UI.Height > 0 {
		d.Height = w.cfg.UI.Height
	}
	if data, ok := w.store.Get(store.KeyDimensions); ok {
		var saved Dimensions
		if err := json.Unmarshal(data, &saved); err == nil && saved.Width > 0 && saved.Height > 0 {
			d = saved
		}
	}
	return clampDimensions(d)
}

// SetDimensions persists a new chat window size, clamped to bounds and
// stamped with the resize time. Persistence failure is ignored; the
// size still applies this run.
func (w *Widget) SetDimensions(d Dimensions) Dimensions {
	d = clampDimensions(d)
	d.Timestamp = time.Now().UTC()
	if data, err := json.Marshal(d); err == nil {
		_ = w.store.Set(store.KeyDimensions, data)
	}
	return d
}

func clampDimensions(d Dimensions) Dimensions {
	d.Width = util.ClampInt(d.Width, MinWidth, MaxWidth)
	d.Height = util.ClampInt(d.Height, MinHeight, MaxHeight)
	return d
}
