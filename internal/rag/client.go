// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rag implements the client for the streaming RAG chat backend.
//
// The backend answers each user message with a retrieval-augmented
// completion streamed as plain text chunks over a chunked HTTP
// response. Requests carry the full visible conversation, the session
// identifier, and retrieval tuning; authentication is a static bearer
// token plus an optional captcha token header.
//
// Requests are never retried. A failed or rate-limited request
// surfaces a typed error and the visitor decides whether to resend.
package rag

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/morganforge/ragchat/internal/conversation"
)

// Configuration constants for the backend API.
const (
	// DefaultTimeout bounds non-streaming requests.
	DefaultTimeout = 30 * time.Second

	// MaxResponseSize is the maximum allowed streamed response size.
	// SECURITY: Response size limit prevents memory exhaustion.
	MaxResponseSize = 4 * 1024 * 1024 // 4MB

	// CaptchaTokenHeader carries the current captcha verification token.
	CaptchaTokenHeader = "X-Captcha-Token"
)

var (
	// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
	// sharedStreamingClient is used for streaming requests (no timeout,
	// context-controlled).
	// SECURITY: TLS verification required for production.
	sharedStreamingClient = &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		// No timeout for streaming - controlled via context
	}
)

// =============================================================================
// ERRORS
// =============================================================================

// Error variables for common backend errors.
var (
	// ErrNotConfigured indicates the backend URL or token is not set.
	ErrNotConfigured = errors.New("backend not configured")

	// ErrRateLimited indicates the backend rejected the message quota.
	ErrRateLimited = errors.New("rate limited")

	// ErrCaptchaRequired indicates the captcha token was rejected and
	// the visitor must complete a fresh challenge.
	ErrCaptchaRequired = errors.New("captcha verification required")
)

// CaptchaError is returned when the backend demands captcha
// re-verification (HTTP 403 with a captcha error code).
type CaptchaError struct {
	Message string
}

func (e *CaptchaError) Error() string {
	if e.Message != "" {
		return "captcha verification required: " + e.Message
	}
	return "captcha verification required"
}

// Is allows CaptchaError to be compared with ErrCaptchaRequired.
func (e *CaptchaError) Is(target error) bool {
	return target == ErrCaptchaRequired
}

// RateLimitError represents a rate limit rejection with any
// server-provided detail.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited, retry after %v", e.RetryAfter)
	}
	return "rate limited"
}

// Is allows RateLimitError to be compared with ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// HTTPError represents any other non-success backend response.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend error: status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("backend error: status %d", e.Status)
}

// apiErrorResponse is the backend's JSON error envelope. The error
// field is a bare code string on the captcha endpoints and a
// {code, message} object on some deployments; both are accepted.
type apiErrorResponse struct {
	Error json.RawMessage `json:"error"`
	// Some deployments return a flat envelope.
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (r apiErrorResponse) code() string {
	if len(r.Error) > 0 {
		var s string
		if json.Unmarshal(r.Error, &s) == nil && s != "" {
			return s
		}
		var obj struct {
			Code string `json:"code"`
		}
		if json.Unmarshal(r.Error, &obj) == nil && obj.Code != "" {
			return obj.Code
		}
	}
	return r.Code
}

func (r apiErrorResponse) message() string {
	if len(r.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(r.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
	}
	return r.Message
}

// Error codes signalling a stale or missing captcha token.
const (
	codeCaptchaReverify = "captcha_reverify"
	codeCaptchaRequired = "captcha_required"
)

func isCaptchaCode(code string) bool {
	return code == codeCaptchaReverify || code == codeCaptchaRequired
}

// =============================================================================
// REQUEST TYPES
// =============================================================================

// chatRequest is the streaming chat request body.
type chatRequest struct {
	Messages                  []conversation.Message `json:"messages"`
	SessionID                 string                 `json:"sessionId"`
	MaxSimilarNumber          int                    `json:"maxSimilarNumber"`
	LastMessagesContextNumber int                    `json:"lastMessagesContextNumber"`
	Stream                    bool                   `json:"stream"`
}

// =============================================================================
// CLIENT
// =============================================================================

// CaptchaTokenSource supplies the current captcha token, or "" when the
// captcha gate is disabled or not yet passed.
type CaptchaTokenSource func() string

// Client talks to the streaming RAG backend.
type Client struct {
	streamURL string
	token     string

	maxSimilar  int
	lastContext int

	captchaToken CaptchaTokenSource
	httpClient   *http.Client
}

// NewClient creates a backend client for the given streaming endpoint
// and bearer token.
func NewClient(streamURL, token string) *Client {
	return &Client{
		streamURL:   streamURL,
		token:       token,
		maxSimilar:  20,
		lastContext: 20,
		httpClient:  sharedStreamingClient,
	}
}

// WithTuning sets the retrieval depth and trailing-context count sent
// with every request.
func (c *Client) WithTuning(maxSimilar, lastContext int) *Client {
	if maxSimilar > 0 {
		c.maxSimilar = maxSimilar
	}
	if lastContext > 0 {
		c.lastContext = lastContext
	}
	return c
}

// WithCaptchaTokenSource wires in the captcha gate's token supplier.
func (c *Client) WithCaptchaTokenSource(src CaptchaTokenSource) *Client {
	c.captchaToken = src
	return c
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

// IsConfigured reports whether the client has an endpoint and token.
func (c *Client) IsConfigured() bool {
	return c.streamURL != "" && c.token != ""
}

// setHeaders applies auth and content headers to a backend request.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if c.captchaToken != nil {
		if tok := c.captchaToken(); tok != "" {
			req.Header.Set(CaptchaTokenHeader, tok)
		}
	}
}

// handleErrorResponse maps a non-success response to a typed error.
// RELIABILITY: No retries here - every failure is surfaced once and
// the caller decides whether to resend.
func (c *Client) handleErrorResponse(resp *http.Response, body []byte) error {
	var apiErr apiErrorResponse
	_ = json.Unmarshal(body, &apiErr)

	switch resp.StatusCode {
	case http.StatusForbidden:
		if isCaptchaCode(apiErr.code()) {
			return &CaptchaError{Message: apiErr.message()}
		}
		return &HTTPError{Status: resp.StatusCode, Message: apiErr.message()}
	case http.StatusTooManyRequests:
		return &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Message:    apiErr.message(),
		}
	default:
		return &HTTPError{Status: resp.StatusCode, Message: apiErr.message()}
	}
}

// parseRetryAfter interprets a Retry-After header as seconds or an
// HTTP date. Returns 0 when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(value); err == nil {
		return time.Until(t)
	}
	return 0
}
