// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the TUI.
//
// This file defines the Bubble Tea message types used by the chat
// interface. All types follow Bubble Tea conventions and are immutable.
package chat

import (
	"time"

	"ollamachat/internal/model"
	"ollamachat/internal/ollama"
	"ollamachat/internal/session"
)

// =============================================================================
// SESSION MESSAGES
// =============================================================================

// SessionEventMsg wraps a session event for the Bubble Tea loop. The
// handler re-reads the session snapshot; the event itself only says
// that something changed.
type SessionEventMsg struct {
	Event session.Event
}

// =============================================================================
// BACKEND MESSAGES
// =============================================================================

// HealthMsg reports inference server reachability.
type HealthMsg struct {
	Running bool
	Err     error
}

// ModelsLoadedMsg delivers the installed model list.
type ModelsLoadedMsg struct {
	Models []ollama.ModelInfo
	Err    error
}

// ChatsLoadedMsg delivers the stored chat list for the sidebar.
type ChatsLoadedMsg struct {
	Metas []model.ChatMeta
	Err   error
}

// ChatOpDoneMsg reports the outcome of a chat operation started as a
// command (load, rename, delete, attach, export).
type ChatOpDoneMsg struct {
	Op  string
	Err error
}

// =============================================================================
// STREAMING MESSAGES
// =============================================================================

// StreamTickMsg is sent at a capped rate during streaming so token
// updates are batched into frames instead of re-rendering per token.
type StreamTickMsg struct {
	Time time.Time
}
