// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/store"
)

// =============================================================================
// GATE STATES
// =============================================================================

// State is the current position in the gate sequence.
type State int

const (
	// StateNeedsWelcome means the welcome question has not been answered.
	StateNeedsWelcome State = iota
	// StateNeedsCaptcha means a captcha challenge must be passed.
	StateNeedsCaptcha
	// StateNeedsAgreements means the access agreements must be accepted.
	StateNeedsAgreements
	// StateOpen means all gates have been passed and chat is available.
	StateOpen
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateNeedsWelcome:
		return "needs_welcome"
	case StateNeedsCaptcha:
		return "needs_captcha"
	case StateNeedsAgreements:
		return "needs_agreements"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Errors returned by the controller.
var (
	// ErrGateClosed indicates an operation that requires open gates.
	ErrGateClosed = errors.New("access gates not passed")

	// ErrWrongState indicates a gate operation invoked out of order.
	ErrWrongState = errors.New("gate operation not valid in current state")

	// ErrAgreementsIncomplete indicates not all agreements are accepted.
	ErrAgreementsIncomplete = errors.New("not all agreements accepted")

	// ErrEmptyAnswer indicates a blank gate submission.
	ErrEmptyAnswer = errors.New("answer must not be empty")
)

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller drives the gate sequence for one widget instance.
//
// All methods are safe for concurrent use.
type Controller struct {
	mu sync.Mutex

	cfg      config.GatesConfig
	hostname string

	state           State
	captchaVerified bool
	captchaToken    string
	accepted        map[string]bool

	// pending is a message captured while the gates were closed,
	// dispatched exactly once when the last gate opens. pendingInLog
	// marks a message already appended to the conversation log at
	// capture, so dispatch does not append it a second time.
	pending      string
	pendingInLog bool
	hasPending   bool

	// welcomeRecorder, when set, appends the welcome answer to the
	// conversation log at capture time.
	welcomeRecorder func(answer string)

	captcha  *CaptchaClient
	consents *ConsentRecorder
}

// NewController builds a controller for the configured gates. Consents
// already recorded for the hostname let returning visitors skip the
// agreements gate; captcha verification is never carried across runs.
func NewController(cfg config.GatesConfig, hostname string, s store.Store) *Controller {
	c := &Controller{
		cfg:      cfg,
		hostname: hostname,
		accepted: make(map[string]bool),
		consents: NewConsentRecorder(s, hostname),
	}
	c.state = c.firstGateFrom(StateNeedsWelcome)
	return c
}

// WithCaptchaClient wires in the challenge client. Required when the
// captcha gate is enabled.
func (c *Controller) WithCaptchaClient(cc *CaptchaClient) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.captcha = cc
	return c
}

// WithWelcomeRecorder wires the hook that appends the welcome answer
// to the conversation log when it is captured.
func (c *Controller) WithWelcomeRecorder(record func(answer string)) *Controller {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.welcomeRecorder = record
	return c
}

// WithConsentReporting enables best-effort consent reporting to the
// agreements endpoint.
func (c *Controller) WithConsentReporting(url, token, sessionID string) *Controller {
	c.consents.WithReporting(url, token, sessionID)
	return c
}

// firstGateFrom returns the first enabled, unsatisfied gate at or after
// the given position.
func (c *Controller) firstGateFrom(from State) State {
	if from <= StateNeedsWelcome && c.cfg.WelcomeEnabled {
		return StateNeedsWelcome
	}
	if from <= StateNeedsCaptcha && c.cfg.CaptchaEnabled && !c.captchaVerified {
		return StateNeedsCaptcha
	}
	if from <= StateNeedsAgreements && c.cfg.AgreementsEnabled && !c.agreementsSatisfied() {
		return StateNeedsAgreements
	}
	return StateOpen
}

// agreementsSatisfied reports whether every configured agreement has a
// recorded consent or a fresh acceptance this run.
func (c *Controller) agreementsSatisfied() bool {
	recorded := c.consents.Recorded()
	for _, a := range c.cfg.Agreements {
		if !c.accepted[a.ID] && recorded[a.ID] == nil {
			return false
		}
	}
	return true
}

// State returns the current gate state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsOpen reports whether all gates have been passed.
func (c *Controller) IsOpen() bool {
	return c.State() == StateOpen
}

// WelcomeQuestion returns the configured opening question.
func (c *Controller) WelcomeQuestion() string {
	return c.cfg.WelcomeQuestion
}

// Agreements returns the configured agreements.
func (c *Controller) Agreements() []config.Agreement {
	return c.cfg.Agreements
}

// =============================================================================
// WELCOME GATE
// =============================================================================

// SubmitWelcome records the visitor's answer to the welcome question
// and advances past the gate. The answer is appended to the
// conversation log immediately (via the welcome recorder) and captured
// as the pending message so it becomes the first dispatched message
// once chat opens.
func (c *Controller) SubmitWelcome(answer string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNeedsWelcome {
		return ErrWrongState
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return ErrEmptyAnswer
	}

	c.pending = answer
	c.pendingInLog = false
	c.hasPending = true
	if c.welcomeRecorder != nil {
		c.welcomeRecorder(answer)
		c.pendingInLog = true
	}
	c.state = c.firstGateFrom(StateNeedsCaptcha)
	return nil
}

// =============================================================================
// CAPTCHA GATE
// =============================================================================

// Challenge fetches a fresh captcha challenge from the backend.
func (c *Controller) Challenge(ctx context.Context) (*Challenge, error) {
	c.mu.Lock()
	cc := c.captcha
	state := c.state
	c.mu.Unlock()

	if state != StateNeedsCaptcha {
		return nil, ErrWrongState
	}
	if cc == nil {
		return nil, errors.New("captcha client not configured")
	}
	return cc.Fetch(ctx)
}

// VerifyCaptcha submits a challenge answer. On success the fresh
// verification token is retained for the next chat request and the
// gate advances. A wrong answer returns ok=false with no error; the
// caller should fetch a fresh challenge.
func (c *Controller) VerifyCaptcha(ctx context.Context, challengeToken, answer string) (bool, error) {
	c.mu.Lock()
	cc := c.captcha
	state := c.state
	c.mu.Unlock()

	if state != StateNeedsCaptcha {
		return false, ErrWrongState
	}
	if cc == nil {
		return false, errors.New("captcha client not configured")
	}
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return false, ErrEmptyAnswer
	}

	token, ok, err := cc.Verify(ctx, challengeToken, answer)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	c.mu.Lock()
	c.captchaVerified = true
	c.captchaToken = token
	c.state = c.firstGateFrom(StateNeedsAgreements)
	c.mu.Unlock()
	return true, nil
}

// TakeCaptchaToken hands out the held verification token and consumes
// it. Each token authorizes exactly one protected request; the server
// rotates tokens on every verification and a reused one is rejected.
// Suitable as a rag.CaptchaTokenSource.
func (c *Controller) TakeCaptchaToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	token := c.captchaToken
	c.captchaToken = ""
	return token
}

// RequireCaptcha drops the verification and regresses to the captcha
// gate. Called when the backend rejects a message with a captcha
// re-verification demand; msg is preserved as pending so it can be
// redispatched after the new challenge is passed. inLog marks a
// message already present in the conversation log.
func (c *Controller) RequireCaptcha(msg string, inLog bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.captchaVerified = false
	c.captchaToken = ""
	if msg != "" {
		c.pending = msg
		c.pendingInLog = inLog
		c.hasPending = true
	}
	// The server's demand overrides the local gate config.
	c.state = StateNeedsCaptcha
}

// =============================================================================
// AGREEMENTS GATE
// =============================================================================

// Accept marks a single agreement as accepted this run. Unknown IDs
// are rejected.
func (c *Controller) Accept(agreementID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNeedsAgreements {
		return ErrWrongState
	}
	for _, a := range c.cfg.Agreements {
		if a.ID == agreementID {
			c.accepted[agreementID] = true
			return nil
		}
	}
	return fmt.Errorf("unknown agreement %q", agreementID)
}

// Continue finishes the agreements gate. All agreements must be
// accepted; consents are persisted locally and reported to the backend
// best-effort, then the gate opens.
func (c *Controller) Continue(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateNeedsAgreements {
		return ErrWrongState
	}
	if !c.agreementsSatisfied() {
		return ErrAgreementsIncomplete
	}

	var fresh []string
	recorded := c.consents.Recorded()
	for _, a := range c.cfg.Agreements {
		if recorded[a.ID] == nil {
			fresh = append(fresh, a.ID)
		}
	}
	if err := c.consents.Record(ctx, fresh); err != nil {
		return err
	}

	c.state = StateOpen
	return nil
}

// =============================================================================
// PENDING MESSAGE
// =============================================================================

// SetPending captures a message typed while the gates were closed. Only
// one message is held; a newer capture replaces the old one.
func (c *Controller) SetPending(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if msg == "" {
		return
	}
	c.pending = msg
	c.pendingInLog = false
	c.hasPending = true
}

// HasPending reports whether a captured message is waiting.
func (c *Controller) HasPending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasPending
}

// TakePending returns the captured message and clears it, so a pending
// message is dispatched at most once. inLog reports whether the
// message was already appended to the conversation log at capture.
func (c *Controller) TakePending() (msg string, inLog, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.hasPending {
		return "", false, false
	}
	msg = c.pending
	inLog = c.pendingInLog
	c.pending = ""
	c.pendingInLog = false
	c.hasPending = false
	return msg, inLog, true
}

// Reset returns the controller to the initial gate. All run-scoped
// progress is dropped and the recorded consents are deleted, so the
// agreements must be accepted again.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.captchaVerified = false
	c.captchaToken = ""
	c.accepted = make(map[string]bool)
	c.pending = ""
	c.pendingInLog = false
	c.hasPending = false
	_ = c.consents.Clear()
	c.state = c.firstGateFrom(StateNeedsWelcome)
}
