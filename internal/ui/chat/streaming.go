// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the TUI.
//
// This file implements render throttling for streaming replies. Tokens
// can arrive far faster than the terminal can usefully redraw; progress
// events mark the transcript dirty and a capped tick drives the actual
// refresh, giving smooth flicker-free output at a bounded frame rate.
package chat

import (
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// =============================================================================
// RENDER THROTTLE
// =============================================================================

// RenderThrottle coalesces progress notifications into frames. Progress
// handlers call MarkDirty; the tick handler calls TakeDirty and redraws
// only when something changed since the last frame.
//
// Thread-safety: progress events arrive from the session goroutine while
// ticks run on the Bubble Tea loop, so state is mutex-protected.
type RenderThrottle struct {
	mu        sync.Mutex
	dirty     bool
	lastFlush time.Time
	minFlush  time.Duration
}

// NewRenderThrottle creates a throttle capped at maxFPS frames per
// second.
func NewRenderThrottle(maxFPS int) *RenderThrottle {
	if maxFPS <= 0 || maxFPS > 60 {
		maxFPS = 30
	}
	return &RenderThrottle{
		minFlush:  time.Duration(1000/maxFPS) * time.Millisecond,
		lastFlush: time.Now(),
	}
}

// MarkDirty records that the transcript changed.
func (rt *RenderThrottle) MarkDirty() {
	rt.mu.Lock()
	rt.dirty = true
	rt.mu.Unlock()
}

// TakeDirty reports whether a redraw is due and resets the flag when it
// is. Returns false when nothing changed or the last frame was too
// recent.
func (rt *RenderThrottle) TakeDirty() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if !rt.dirty || time.Since(rt.lastFlush) < rt.minFlush {
		return false
	}
	rt.dirty = false
	rt.lastFlush = time.Now()
	return true
}

// ForceTake reports and clears the dirty flag regardless of timing.
// Used when a stream finishes so the final tokens always render.
func (rt *RenderThrottle) ForceTake() bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	dirty := rt.dirty
	rt.dirty = false
	rt.lastFlush = time.Now()
	return dirty
}

// streamTickCmd drives the redraw loop while a reply is streaming.
func streamTickCmd() tea.Cmd {
	return tea.Tick(33*time.Millisecond, func(t time.Time) tea.Msg {
		return StreamTickMsg{Time: t}
	})
}
