// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides UI components for the ollamachat TUI.
package components

import (
	"strings"
	"time"

	"ollamachat/internal/model"
	"ollamachat/internal/ui/styles"
	"ollamachat/internal/util"
)

// =============================================================================
// CHAT SIDEBAR
// =============================================================================

// Sidebar lists stored chats grouped by recency for picking with the
// arrow keys.
type Sidebar struct {
	theme    *styles.Theme
	chats    []model.ChatMeta
	ordered  []model.ChatMeta // flattened in display order
	selected int
	width    int
}

// NewSidebar creates an empty sidebar.
func NewSidebar(theme *styles.Theme, width int) *Sidebar {
	if width < 20 {
		width = 20
	}
	return &Sidebar{theme: theme, width: width}
}

// SetChats replaces the listed chats, preserving the selection when the
// previously selected chat is still present.
func (s *Sidebar) SetChats(chats []model.ChatMeta) {
	var prevID string
	if sel, ok := s.Selected(); ok {
		prevID = sel.ID
	}

	s.chats = chats
	s.ordered = s.ordered[:0]
	groups := model.GroupChats(chats, time.Now())
	for _, g := range model.DateGroups {
		s.ordered = append(s.ordered, groups[g]...)
	}

	s.selected = 0
	for i, c := range s.ordered {
		if c.ID == prevID {
			s.selected = i
			break
		}
	}
}

// Len returns the number of listed chats.
func (s *Sidebar) Len() int {
	return len(s.ordered)
}

// Selected returns the currently highlighted chat.
func (s *Sidebar) Selected() (model.ChatMeta, bool) {
	if s.selected < 0 || s.selected >= len(s.ordered) {
		return model.ChatMeta{}, false
	}
	return s.ordered[s.selected], true
}

// MoveUp moves the selection up.
func (s *Sidebar) MoveUp() {
	if s.selected > 0 {
		s.selected--
	}
}

// MoveDown moves the selection down.
func (s *Sidebar) MoveDown() {
	if s.selected < len(s.ordered)-1 {
		s.selected++
	}
}

// View renders the sidebar.
func (s *Sidebar) View() string {
	if len(s.ordered) == 0 {
		return s.theme.Sidebar.Render(s.theme.SidebarMeta.Render("No saved chats yet"))
	}

	nameWidth := s.width - 6
	groups := model.GroupChats(s.chats, time.Now())

	var b strings.Builder
	idx := 0
	for _, g := range model.DateGroups {
		metas := groups[g]
		if len(metas) == 0 {
			continue
		}
		b.WriteString(s.theme.SidebarGroupHeader.Render(string(g)))
		b.WriteString("\n")
		for _, meta := range metas {
			name := util.TruncateRunes(meta.Name, nameWidth)
			if idx == s.selected {
				b.WriteString(s.theme.SidebarItemSelected.Render("> " + name))
			} else {
				b.WriteString(s.theme.SidebarItem.Render("  " + name))
			}
			b.WriteString("\n")
			idx++
		}
	}

	return s.theme.Sidebar.Width(s.width).Render(strings.TrimRight(b.String(), "\n"))
}
