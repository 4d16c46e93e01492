// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the TUI.
package chat

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ollamachat/internal/model"
	"ollamachat/internal/session"
)

// =============================================================================
// VIEW
// =============================================================================

// View renders the full chat screen.
func (m *Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")

	transcript := m.transcriptView()
	if m.showSidebar {
		transcript = lipgloss.JoinHorizontal(lipgloss.Top, m.sidebar.View(), transcript)
	}
	b.WriteString(transcript)
	b.WriteString("\n")

	if m.spin.Active() {
		b.WriteString(m.spin.View())
	}
	b.WriteString("\n")

	if toast := m.toast.View(); toast != "" {
		b.WriteString(toast)
	}
	b.WriteString("\n")

	b.WriteString(m.theme.InputContainer.Width(m.width - 2).Render(m.input.View()))
	b.WriteString("\n")
	b.WriteString(m.statusBarView())

	return b.String()
}

// =============================================================================
// HEADER
// =============================================================================

func (m *Model) headerView() string {
	snap := m.sess.Snapshot()

	name := snap.ChatName
	if name == "" {
		name = "New chat"
	}
	title := m.theme.HeaderTitle.Render(name)

	parts := []string{snap.Model}
	if snap.HasPersona {
		parts = append(parts, "persona: "+snap.Persona.Key)
	}
	subtitle := m.theme.HeaderSubtitle.Render(strings.Join(parts, " | "))

	return m.theme.Header.Width(m.width).Render(title + "  " + subtitle)
}

// =============================================================================
// TRANSCRIPT
// =============================================================================

func (m *Model) transcriptView() string {
	if len(m.sess.Snapshot().Messages) == 0 {
		return m.welcomeView()
	}
	return m.viewport.View()
}

// welcomeView shows the starter prompts while the transcript is empty.
func (m *Model) welcomeView() string {
	var b strings.Builder
	b.WriteString(m.theme.WelcomeTitle.Render("ollamachat"))
	b.WriteString("\n")
	b.WriteString(m.theme.WelcomeHint.Render("Type a message, pick a starter by number, or /help for commands."))
	b.WriteString("\n\n")
	b.WriteString(m.theme.StarterTitle.Render("Starters"))
	b.WriteString("\n")
	for i, sp := range model.StarterPrompts {
		line := fmt.Sprintf("%d. %s", i+1, sp.Title)
		b.WriteString(m.theme.StarterPrompt.Render(line))
		b.WriteString("\n")
	}

	box := m.theme.WelcomeBox.Render(b.String())
	return lipgloss.Place(m.width, m.viewport.Height, lipgloss.Center, lipgloss.Center, box)
}

// =============================================================================
// STATUS BAR
// =============================================================================

func (m *Model) statusBarView() string {
	var status string
	switch {
	case m.sess.State() != session.StateIdle:
		status = m.theme.StatusBusy.Render("generating")
	case !m.healthOK:
		status = m.theme.StatusBusy.Render("ollama offline")
	default:
		status = m.theme.StatusOK.Render("ready")
	}

	shortcuts := []struct{ key, desc string }{
		{"enter", "send"},
		{"esc", "stop"},
		{"ctrl+l", "chats"},
		{"pgup/pgdn", "scroll"},
		{"ctrl+c", "quit"},
	}
	parts := make([]string, 0, len(shortcuts))
	for _, s := range shortcuts {
		parts = append(parts, m.theme.ShortcutKey.Render(s.key)+" "+m.theme.ShortcutDesc.Render(s.desc))
	}

	return m.theme.StatusBar.Width(m.width).Render(status + "  " + strings.Join(parts, "  "))
}
