// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ollamachat/internal/util"
)

// MaxChatNameRunes caps derived chat names. Names longer than this are
// truncated with an ellipsis.
const MaxChatNameRunes = 30

// =============================================================================
// CHAT TYPES
// =============================================================================

// Chat is a named conversation with its full message history.
type Chat struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatMeta is the sidebar view of a chat: identity and ordering fields only.
type ChatMeta struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewChat creates an empty chat with a generated ID.
func NewChat(name string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        uuid.NewString(),
		Name:      name,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Meta returns the chat's metadata view.
func (c *Chat) Meta() ChatMeta {
	return ChatMeta{
		ID:        c.ID,
		Name:      c.Name,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

// IsEmpty reports whether the chat has no messages yet.
func (c *Chat) IsEmpty() bool {
	return len(c.Messages) == 0
}

// LastMessage returns the most recent message, or nil for an empty chat.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// NameFromContent derives a chat name from the first user message.
// The name is the message truncated to MaxChatNameRunes runes, with an
// ellipsis only when truncation actually happened.
func NameFromContent(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "New Chat"
	}
	// Collapse the first line only; a multi-line prompt should not produce
	// a multi-line sidebar entry.
	if i := strings.IndexByte(content, '\n'); i >= 0 {
		content = strings.TrimSpace(content[:i])
		if content == "" {
			return "New Chat"
		}
	}
	return util.TruncateRunes(content, MaxChatNameRunes)
}

// =============================================================================
// RECENCY GROUPING
// =============================================================================

// DateGroup buckets chats by how recently they were updated.
type DateGroup string

const (
	GroupToday      DateGroup = "Today"
	GroupYesterday  DateGroup = "Yesterday"
	GroupLast7Days  DateGroup = "Last 7 Days"
	GroupLast30Days DateGroup = "Last 30 Days"
	GroupOlder      DateGroup = "Older"
)

// DateGroups lists the groups in display order.
var DateGroups = []DateGroup{
	GroupToday,
	GroupYesterday,
	GroupLast7Days,
	GroupLast30Days,
	GroupOlder,
}

// GroupFor returns the recency bucket for a timestamp relative to now.
// Today and Yesterday are calendar days in local time; the remaining
// buckets are rolling windows.
func GroupFor(t, now time.Time) DateGroup {
	y, m, d := now.Date()
	startOfToday := time.Date(y, m, d, 0, 0, 0, 0, now.Location())

	switch {
	case !t.Before(startOfToday):
		return GroupToday
	case !t.Before(startOfToday.AddDate(0, 0, -1)):
		return GroupYesterday
	case !t.Before(startOfToday.AddDate(0, 0, -6)):
		return GroupLast7Days
	case !t.Before(startOfToday.AddDate(0, 0, -29)):
		return GroupLast30Days
	default:
		return GroupOlder
	}
}

// GroupChats partitions chats (already sorted most-recent-first) into
// recency buckets, preserving order within each bucket.
func GroupChats(chats []ChatMeta, now time.Time) map[DateGroup][]ChatMeta {
	groups := make(map[DateGroup][]ChatMeta)
	for _, c := range chats {
		g := GroupFor(c.UpdatedAt, now)
		groups[g] = append(groups[g], c)
	}
	return groups
}

// =============================================================================
// MARKDOWN EXPORT
// =============================================================================

// ExportMarkdown renders the chat as a markdown transcript.
func (c *Chat) ExportMarkdown() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# %s\n\n", c.Name))
	sb.WriteString(fmt.Sprintf("*Created: %s*\n", c.CreatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("*Updated: %s*\n", c.UpdatedAt.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("*Messages: %d*\n\n", len(c.Messages)))
	sb.WriteString("---\n\n")

	for _, msg := range c.Messages {
		sb.WriteString(fmt.Sprintf("## %s\n\n", msg.Role.DisplayName()))
		if msg.IsImage() {
			sb.WriteString(fmt.Sprintf("![%s](%s)\n\n", msg.Content, msg.ImageURL))
			continue
		}
		sb.WriteString(msg.Content)
		sb.WriteString("\n\n")
	}

	return sb.String()
}
