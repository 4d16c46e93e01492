// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and their messages.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"ollamachat/internal/model"
)

// =============================================================================
// SCHEMA
// =============================================================================

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS chats (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id           TEXT PRIMARY KEY,
	chat_id      TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	role         TEXT NOT NULL,
	content      TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT 'text',
	image_url    TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq);

CREATE TABLE IF NOT EXISTS applied_turns (
	turn_key   TEXT PRIMARY KEY,
	chat_id    TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
	applied_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chats_updated ON chats(updated_at DESC);
`

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore is the embedded local chat store.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and if needed creates) the chat database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON", // Required for cascade deletes
		"PRAGMA temp_store=MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// CHAT CRUD
// =============================================================================

// CreateChat creates an empty chat with the given name.
func (s *SQLiteStore) CreateChat(ctx context.Context, name string) (*model.Chat, error) {
	chat := model.NewChat(name)

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO chats (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)",
		chat.ID, chat.Name, chat.CreatedAt.UnixNano(), chat.UpdatedAt.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create chat: %w", err)
	}

	return chat, nil
}

// ListChats returns chat metadata sorted by UpdatedAt, newest first.
func (s *SQLiteStore) ListChats(ctx context.Context) ([]model.ChatMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, created_at, updated_at FROM chats ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	metas := []model.ChatMeta{}
	for rows.Next() {
		var meta model.ChatMeta
		var created, updated int64
		if err := rows.Scan(&meta.ID, &meta.Name, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		meta.CreatedAt = time.Unix(0, created)
		meta.UpdatedAt = time.Unix(0, updated)
		metas = append(metas, meta)
	}
	return metas, rows.Err()
}

// GetChat returns a chat with its full message history.
func (s *SQLiteStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	chat := &model.Chat{ID: id, Messages: []model.Message{}}

	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		"SELECT name, created_at, updated_at FROM chats WHERE id = ?", id).
		Scan(&chat.Name, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get chat: %w", err)
	}
	chat.CreatedAt = time.Unix(0, created)
	chat.UpdatedAt = time.Unix(0, updated)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, role, content, content_type, image_url, created_at FROM messages WHERE chat_id = ? ORDER BY seq", id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg model.Message
		var msgCreated int64
		var role, contentType string
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &contentType, &msg.ImageURL, &msgCreated); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		msg.Role = model.Role(role)
		msg.Type = model.ContentType(contentType)
		msg.CreatedAt = time.Unix(0, msgCreated)
		chat.Messages = append(chat.Messages, msg)
	}
	return chat, rows.Err()
}

// RenameChat sets the chat's name and bumps UpdatedAt.
func (s *SQLiteStore) RenameChat(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE chats SET name = ?, updated_at = ? WHERE id = ?",
		name, time.Now().UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to rename chat: %w", err)
	}
	return requireRowAffected(res, id)
}

// DeleteChat removes the chat; messages and turn keys cascade.
func (s *SQLiteStore) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM chats WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	return requireRowAffected(res, id)
}

// =============================================================================
// ATOMIC APPEND
// =============================================================================

// AppendMessages appends messages and applies an optional rename in one
// transaction. When turnKey was already applied the call is a no-op that
// returns the chat as it stands.
func (s *SQLiteStore) AppendMessages(ctx context.Context, chatID string, msgs []model.Message, newName, turnKey string) (*model.Chat, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyAppend
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Idempotency: a replayed turn changes nothing.
	if turnKey != "" {
		var existing string
		err := tx.QueryRowContext(ctx,
			"SELECT chat_id FROM applied_turns WHERE turn_key = ?", turnKey).Scan(&existing)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("failed to commit transaction: %w", err)
			}
			return s.GetChat(ctx, chatID)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("failed to check turn key: %w", err)
		}
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM chats WHERE id = ?", chatID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check chat: %w", err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		"SELECT MAX(seq) FROM messages WHERE chat_id = ?", chatID).Scan(&maxSeq); err != nil {
		return nil, fmt.Errorf("failed to read message sequence: %w", err)
	}
	seq := maxSeq.Int64 + 1

	now := time.Now()
	for i, msg := range msgs {
		id := msg.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := msg.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		contentType := msg.Type
		if contentType == "" {
			contentType = model.ContentText
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO messages (id, chat_id, seq, role, content, content_type, image_url, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
			id, chatID, seq+int64(i), msg.Role.String(), msg.Content, string(contentType), msg.ImageURL, createdAt.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("failed to insert message: %w", err)
		}
	}

	if newName != "" {
		if _, err := tx.ExecContext(ctx,
			"UPDATE chats SET name = ?, updated_at = ? WHERE id = ?",
			newName, now.UnixNano(), chatID); err != nil {
			return nil, fmt.Errorf("failed to rename chat: %w", err)
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			"UPDATE chats SET updated_at = ? WHERE id = ?",
			now.UnixNano(), chatID); err != nil {
			return nil, fmt.Errorf("failed to touch chat: %w", err)
		}
	}

	if turnKey != "" {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO applied_turns (turn_key, chat_id, applied_at) VALUES (?, ?, ?)",
			turnKey, chatID, now.UnixNano()); err != nil {
			return nil, fmt.Errorf("failed to record turn key: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return s.GetChat(ctx, chatID)
}

// requireRowAffected converts a zero-row update into ErrChatNotFound.
func requireRowAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, id)
	}
	return nil
}
