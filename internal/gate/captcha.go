// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// maxCaptchaResponseSize bounds challenge payloads (they embed an
// image).
// SECURITY: Response size limit prevents memory exhaustion.
const maxCaptchaResponseSize = 1 * 1024 * 1024

// Challenge is a server-issued captcha challenge. Token identifies the
// challenge on verification; Image is the puzzle, usually a data URL.
type Challenge struct {
	Token string `json:"token"`
	Image string `json:"image"`
}

// Display returns a terminal-friendly rendering of the challenge
// image: plain URLs pass through, inline data URLs collapse to a note.
func (ch *Challenge) Display() string {
	if strings.HasPrefix(ch.Image, "data:") {
		return "[image challenge]"
	}
	return ch.Image
}

// verifyRequest is the challenge answer submission.
type verifyRequest struct {
	Token   string `json:"token"`
	Answer  string `json:"answer"`
	AgentID string `json:"agentId"`
}

// verifyResponse is the verification result. NewToken is issued on
// success and authorizes the next protected request.
type verifyResponse struct {
	Success  bool   `json:"success"`
	NewToken string `json:"newToken"`
	Error    string `json:"error"`
}

// CaptchaClient fetches and verifies captcha challenges.
type CaptchaClient struct {
	challengeURL string
	verifyURL    string
	token        string
	agentID      string
	httpClient   *http.Client
}

// NewCaptchaClient creates a client for the captcha endpoints.
// challengeURL serves fresh challenges; verification POSTs to
// challengeURL + "/verify" unless overridden.
func NewCaptchaClient(challengeURL, token string) *CaptchaClient {
	return &CaptchaClient{
		challengeURL: challengeURL,
		verifyURL:    challengeURL + "/verify",
		token:        token,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// WithAgentID sets the agent identifier sent with every challenge
// request and answer.
func (c *CaptchaClient) WithAgentID(agentID string) *CaptchaClient {
	c.agentID = agentID
	return c
}

// WithVerifyURL overrides the verification endpoint.
func (c *CaptchaClient) WithVerifyURL(u string) *CaptchaClient {
	c.verifyURL = u
	return c
}

// WithHTTPClient overrides the HTTP client (used in tests).
func (c *CaptchaClient) WithHTTPClient(hc *http.Client) *CaptchaClient {
	c.httpClient = hc
	return c
}

// Fetch requests a fresh challenge. Every call issues a new challenge;
// previously issued ones are invalidated server-side.
func (c *CaptchaClient) Fetch(ctx context.Context) (*Challenge, error) {
	fetchURL := c.challengeURL
	if c.agentID != "" {
		fetchURL += "?agentId=" + url.QueryEscape(c.agentID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptchaResponseSize))
	if err != nil {
		return nil, fmt.Errorf("reading challenge: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("challenge request failed: status %d", resp.StatusCode)
	}

	var ch Challenge
	if err := json.Unmarshal(body, &ch); err != nil {
		return nil, fmt.Errorf("decoding challenge: %w", err)
	}
	if ch.Token == "" {
		return nil, fmt.Errorf("challenge missing token")
	}
	return &ch, nil
}

// Verify submits an answer for a challenge. ok=false with a nil error
// means the answer was wrong and a new challenge is required. On
// success the returned token authorizes the next protected request.
func (c *CaptchaClient) Verify(ctx context.Context, challengeToken, answer string) (newToken string, ok bool, err error) {
	bodyBytes, err := json.Marshal(verifyRequest{Token: challengeToken, Answer: answer, AgentID: c.agentID})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCaptchaResponseSize))
	if err != nil {
		return "", false, fmt.Errorf("reading verify response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var vr verifyResponse
		if err := json.Unmarshal(body, &vr); err != nil {
			return "", false, fmt.Errorf("decoding verify response: %w", err)
		}
		if !vr.Success {
			return "", false, nil
		}
		return vr.NewToken, true, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		// Wrong or expired answer.
		return "", false, nil
	default:
		return "", false, fmt.Errorf("verify request failed: status %d", resp.StatusCode)
	}
}
