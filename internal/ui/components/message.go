// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides UI components for the ollamachat TUI.
package components

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ollamachat/internal/model"
	"ollamachat/internal/ui/styles"
)

// =============================================================================
// MESSAGE RENDERER
// =============================================================================

// MessageRenderer renders transcript messages as bubbles. User messages
// are plain text; assistant messages go through the markdown renderer.
type MessageRenderer struct {
	theme    *styles.Theme
	markdown *MarkdownRenderer
	width    int
	compact  bool
}

// NewMessageRenderer creates a renderer for the given terminal width.
func NewMessageRenderer(theme *styles.Theme, width int, compact bool) *MessageRenderer {
	bubbleWidth := width - 6
	if bubbleWidth < 20 {
		bubbleWidth = 20
	}
	return &MessageRenderer{
		theme:    theme,
		markdown: NewMarkdownRenderer(bubbleWidth),
		width:    width,
		compact:  compact,
	}
}

// Render renders a single message. streaming marks the assistant
// message currently being filled; it gets a trailing cursor.
func (r *MessageRenderer) Render(msg model.Message, streaming bool) string {
	label := r.theme.RoleLabel.Render(msg.Role.DisplayName())
	timestamp := r.theme.Timestamp.Render(msg.CreatedAt.Format("15:04"))
	header := label + " " + timestamp

	var body string
	switch {
	case msg.IsImage():
		body = r.theme.Timestamp.Render("[image] ") + msg.Content + "\n" +
			r.theme.Timestamp.Render(msg.ImageURL)
	case msg.Role == model.RoleAssistant:
		content := msg.Content
		if streaming {
			content += "▌" // streaming cursor
		}
		if content == "" {
			content = r.theme.ThinkingText.Render("...")
		} else {
			content = r.markdown.Render(content)
		}
		body = content
	default:
		body = msg.Content
	}

	bubble := r.bubbleStyle(msg.Role).MaxWidth(r.width - 2).Render(body)

	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\n")
	b.WriteString(bubble)
	if !r.compact {
		b.WriteString("\n")
	}
	return b.String()
}

// RenderAll renders the whole transcript. streamingID is the ID of the
// assistant message being filled, or empty.
func (r *MessageRenderer) RenderAll(msgs []model.Message, streamingID string) string {
	var parts []string
	for _, m := range msgs {
		parts = append(parts, r.Render(m, m.ID == streamingID))
	}
	return strings.Join(parts, "\n")
}

func (r *MessageRenderer) bubbleStyle(role model.Role) lipgloss.Style {
	if role == model.RoleUser {
		return r.theme.UserBubble
	}
	return r.theme.AssistantBubble
}
