// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/morganforge/ragchat/internal/conversation"
)

// STREAMING: The backend streams the completion as raw text chunks over
// a chunked HTTP response; each read is appended to the visible reply.

// streamReadSize is the buffer size for each stream read.
const streamReadSize = 4 * 1024

// StreamCallback is called for each text chunk as it arrives.
type StreamCallback func(chunk string)

// StartedCallback fires once when the backend has accepted the request,
// receiving the live response before the first chunk is read.
type StartedCallback func(resp *http.Response)

// StreamError represents an error that occurred mid-stream, preserving
// any partial content received before the failure.
type StreamError struct {
	Partial string
	Err     error
}

func (e *StreamError) Error() string {
	if e.Partial != "" {
		return fmt.Sprintf("stream error (partial content received: %d chars): %v", len(e.Partial), e.Err)
	}
	return fmt.Sprintf("stream error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *StreamError) Unwrap() error {
	return e.Err
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// Send posts the conversation to the backend and streams the reply.
// The callback receives each chunk as it arrives; the accumulated reply
// is returned when the stream completes. onStarted, when non-nil, fires
// once with the response before the first chunk is read; panics inside
// it are recovered and logged so an embedder hook cannot kill the
// stream.
func (c *Client) Send(ctx context.Context, messages []conversation.Message, sessionID string, onStarted StartedCallback, callback StreamCallback) (string, error) {
	if !c.IsConfigured() {
		return "", ErrNotConfigured
	}

	reqBody := chatRequest{
		Messages:                  messages,
		SessionID:                 sessionID,
		MaxSimilarNumber:          c.maxSimilar,
		LastMessagesContextNumber: c.lastContext,
		Stream:                    true,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize))
		return "", c.handleErrorResponse(resp, body)
	}

	if onStarted != nil {
		safeNotify(onStarted, resp)
	}

	return c.processStream(ctx, resp.Body, callback)
}

// safeNotify invokes an embedder hook, recovering and logging panics.
func safeNotify(fn StartedCallback, resp *http.Response) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("rag: response-started hook panicked: %v", r)
		}
	}()
	fn(resp)
}

// processStream reads the chunked text body until EOF, forwarding each
// chunk to the callback. Partial content is preserved on failure.
func (c *Client) processStream(ctx context.Context, body io.Reader, callback StreamCallback) (string, error) {
	var accumulated strings.Builder
	limited := io.LimitReader(body, MaxResponseSize)
	buf := make([]byte, streamReadSize)

	for {
		select {
		case <-ctx.Done():
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: ctx.Err()}
		default:
		}

		n, err := limited.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			accumulated.WriteString(chunk)
			if callback != nil {
				callback(chunk)
			}
		}
		if err != nil {
			if err == io.EOF {
				return accumulated.String(), nil
			}
			return accumulated.String(), &StreamError{Partial: accumulated.String(), Err: err}
		}
	}
}
