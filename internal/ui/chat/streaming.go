// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the full-screen chat view for the widget.
//
// This file implements streaming optimization for smooth, flicker-free
// rendering while a reply streams in. The StreamingBuffer batches
// chunks and flushes at a capped frame rate to balance responsiveness
// with CPU efficiency.
package chat

import (
	"strings"
	"sync"
	"time"
)

// =============================================================================
// STREAMING BUFFER
// =============================================================================

// StreamingBuffer batches chunks for efficient rendering.
// Chunks accumulate and are flushed either when:
// 1. The batch size threshold is reached
// 2. Enough time has passed since the last flush
//
// This prevents excessive rendering which causes flicker and high CPU
// usage, while maintaining smooth visual updates.
//
// Thread-safety: streaming happens in a goroutine while rendering
// happens in the main Bubble Tea loop, so all operations take a mutex.
type StreamingBuffer struct {
	mu         sync.Mutex
	buffer     strings.Builder
	chunkCount int
	lastFlush  time.Time

	batchSize  int
	minFlushMs time.Duration
}

// NewStreamingBuffer creates a streaming buffer with default settings:
// 15 chunks per batch, flushes capped at 30fps.
func NewStreamingBuffer() *StreamingBuffer {
	const (
		defaultBatchSize = 15
		defaultMaxFPS    = 30
	)
	return &StreamingBuffer{
		batchSize:  defaultBatchSize,
		minFlushMs: time.Duration(1000/defaultMaxFPS) * time.Millisecond,
		lastFlush:  time.Now(),
	}
}

// Write adds a chunk to the buffer. Called from the streaming goroutine.
func (sb *StreamingBuffer) Write(chunk string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buffer.WriteString(chunk)
	sb.chunkCount++
}

// Flush returns the buffered text and resets the buffer when a flush is
// due. The second return is false when nothing should be rendered yet.
func (sb *StreamingBuffer) Flush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.buffer.Len() == 0 {
		return "", false
	}
	if sb.chunkCount < sb.batchSize && time.Since(sb.lastFlush) < sb.minFlushMs {
		return "", false
	}

	text := sb.buffer.String()
	sb.buffer.Reset()
	sb.chunkCount = 0
	sb.lastFlush = time.Now()
	return text, true
}

// ForceFlush drains the buffer regardless of thresholds. Used when the
// stream completes so no trailing text is lost.
func (sb *StreamingBuffer) ForceFlush() (string, bool) {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	if sb.buffer.Len() == 0 {
		return "", false
	}
	text := sb.buffer.String()
	sb.buffer.Reset()
	sb.chunkCount = 0
	sb.lastFlush = time.Now()
	return text, true
}

// Reset clears the buffer without returning its contents.
func (sb *StreamingBuffer) Reset() {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.buffer.Reset()
	sb.chunkCount = 0
	sb.lastFlush = time.Now()
}
