// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates a single chat conversation: transcript
// state, the in-flight generation stream, and persistence hand-off.
package session

// =============================================================================
// EVENT TYPES
// =============================================================================

// EventType identifies what changed in the session.
type EventType int

const (
	// EventStreamStarted fires when a generation turn begins.
	EventStreamStarted EventType = iota

	// EventStreamProgress fires as streamed content accumulates. The
	// render layer should re-read the snapshot; events carry no tokens.
	EventStreamProgress

	// EventStreamCompleted fires when a turn finishes and the message
	// pair has been persisted.
	EventStreamCompleted

	// EventStreamAborted fires when a turn was cancelled by the user.
	// Partial content is kept and persisted.
	EventStreamAborted

	// EventStreamFailed fires when the stream broke before completion.
	// The assistant placeholder has been dropped and nothing persisted.
	EventStreamFailed

	// EventPersistFailed fires when the turn finished but saving it did
	// not. The transcript keeps the in-memory pair.
	EventPersistFailed

	// EventChatChanged fires on load, new-chat, rename, delete, and
	// attachment changes.
	EventChatChanged
)

// String returns a readable name for logging.
func (t EventType) String() string {
	switch t {
	case EventStreamStarted:
		return "stream_started"
	case EventStreamProgress:
		return "stream_progress"
	case EventStreamCompleted:
		return "stream_completed"
	case EventStreamAborted:
		return "stream_aborted"
	case EventStreamFailed:
		return "stream_failed"
	case EventPersistFailed:
		return "persist_failed"
	case EventChatChanged:
		return "chat_changed"
	default:
		return "unknown"
	}
}

// Event is a notification to the render layer. State itself is read via
// Snapshot; events only say that a read is worthwhile.
type Event struct {
	Type EventType
	Err  error
}
