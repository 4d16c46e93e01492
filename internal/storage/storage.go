// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and their messages. Two implementations
// exist: an embedded SQLite store for local mode and an HTTP client for
// the chatd backend in remote mode. The implementation is selected once
// at startup; callers only see the Store interface.
package storage

import (
	"context"
	"errors"

	"ollamachat/internal/model"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrChatNotFound is returned when the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrEmptyAppend is returned when an append carries no messages.
	ErrEmptyAppend = errors.New("append requires at least one message")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("store is closed")
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is the persistence port for chats.
//
// AppendMessages is the one compound operation: it appends messages and,
// when newName is non-empty, renames the chat in the same atomic step.
// A non-empty turnKey makes the append idempotent: replaying an append
// with a key that was already applied is a no-op that returns current
// state. Every mutation bumps the chat's UpdatedAt.
type Store interface {
	// CreateChat creates an empty chat with the given name.
	CreateChat(ctx context.Context, name string) (*model.Chat, error)

	// ListChats returns chat metadata sorted by UpdatedAt, newest first.
	ListChats(ctx context.Context) ([]model.ChatMeta, error)

	// GetChat returns a chat with its full message history.
	GetChat(ctx context.Context, id string) (*model.Chat, error)

	// RenameChat sets the chat's name.
	RenameChat(ctx context.Context, id, name string) error

	// DeleteChat removes the chat and all its messages.
	DeleteChat(ctx context.Context, id string) error

	// AppendMessages atomically appends messages to a chat, optionally
	// renaming it, and returns the updated chat.
	AppendMessages(ctx context.Context, chatID string, msgs []model.Message, newName, turnKey string) (*model.Chat, error)

	// Close releases the store's resources.
	Close() error
}
