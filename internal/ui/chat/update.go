// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the TUI.
package chat

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"ollamachat/internal/session"
	"ollamachat/internal/ui/components"
)

// =============================================================================
// UPDATE
// =============================================================================

// Update is the Bubble Tea update loop.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return m, m.handleResize(msg)

	case tea.KeyMsg:
		return m.handleKey(msg)

	case SessionEventMsg:
		return m, m.handleSessionEvent(msg.Event)

	case StreamTickMsg:
		return m, m.handleStreamTick()

	case HealthMsg:
		m.healthOK = msg.Running
		if !msg.Running {
			m.toast.Show(components.ToastError,
				"Cannot reach Ollama - is it running? (ollama serve)")
		}
		return m, nil

	case ModelsLoadedMsg:
		if msg.Err == nil {
			m.models = msg.Models
			m.healthOK = true
		}
		return m, nil

	case ChatsLoadedMsg:
		if msg.Err == nil {
			m.sidebar.SetChats(msg.Metas)
		}
		return m, nil

	case ChatOpDoneMsg:
		return m, m.handleChatOpDone(msg)

	case spinner.TickMsg:
		return m, m.spin.Update(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// =============================================================================
// RESIZE
// =============================================================================

func (m *Model) handleResize(msg tea.WindowSizeMsg) tea.Cmd {
	m.width = msg.Width
	m.height = msg.Height

	// Header, toast, input, and status bar take fixed rows; the
	// viewport gets the rest.
	viewportHeight := msg.Height - 8
	if viewportHeight < 3 {
		viewportHeight = 3
	}

	if !m.ready {
		m.viewport = viewport.New(msg.Width, viewportHeight)
		m.ready = true
	} else {
		m.viewport.Width = msg.Width
		m.viewport.Height = viewportHeight
	}

	m.input.Width = msg.Width - 6
	m.renderer = components.NewMessageRenderer(m.theme, msg.Width, m.cfg.UI.CompactMode)
	m.refreshViewport()
	return nil
}

// =============================================================================
// KEYS
// =============================================================================

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.sess.Abort()
		return m, tea.Quit
	}

	if m.showSidebar {
		return m, m.handleSidebarKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Abort):
		if m.sess.Abort() {
			return m, m.toastInfo("Stopping generation...")
		}
		m.toast.Clear()
		return m, nil

	case key.Matches(msg, m.keys.ToggleSidebar):
		m.showSidebar = true
		return m, m.loadChatsCmd()

	case key.Matches(msg, m.keys.ScrollUp):
		m.viewport.HalfViewUp()
		return m, nil

	case key.Matches(msg, m.keys.ScrollDown):
		m.viewport.HalfViewDown()
		return m, nil

	case key.Matches(msg, m.keys.Submit):
		return m, m.handleSubmit()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) handleSidebarKey(msg tea.KeyMsg) tea.Cmd {
	switch {
	case key.Matches(msg, m.keys.SidebarUp):
		m.sidebar.MoveUp()
		return nil

	case key.Matches(msg, m.keys.SidebarDown):
		m.sidebar.MoveDown()
		return nil

	case key.Matches(msg, m.keys.SidebarOpen):
		meta, ok := m.sidebar.Selected()
		if !ok {
			return nil
		}
		m.showSidebar = false
		sess := m.sess
		return func() tea.Msg {
			return ChatOpDoneMsg{Op: "load", Err: sess.LoadChat(context.Background(), meta.ID)}
		}

	case key.Matches(msg, m.keys.SidebarDelete):
		meta, ok := m.sidebar.Selected()
		if !ok {
			return nil
		}
		sess := m.sess
		return func() tea.Msg {
			return ChatOpDoneMsg{Op: "delete", Err: sess.DeleteChat(context.Background(), meta.ID)}
		}

	case key.Matches(msg, m.keys.Abort), key.Matches(msg, m.keys.ToggleSidebar):
		m.showSidebar = false
		return nil
	}
	return nil
}

// handleSubmit sends the input line: a slash command, a starter prompt
// shortcut, or a chat message.
func (m *Model) handleSubmit() tea.Cmd {
	value := strings.TrimSpace(m.input.Value())
	if value == "" {
		return nil
	}

	if c, ok := parseCommand(value); ok {
		m.input.Reset()
		return m.runCommand(c)
	}

	// On the welcome screen a bare number picks a starter prompt and
	// fills the input for editing instead of sending immediately.
	if len(m.sess.Snapshot().Messages) == 0 {
		if n, err := strconv.Atoi(value); err == nil {
			if sp, ok := starterPrompt(n); ok {
				m.input.SetValue(sp.Prompt)
				m.input.CursorEnd()
				return nil
			}
		}
	}

	if err := m.sess.Submit(value); err != nil {
		switch {
		case errors.Is(err, session.ErrBusy):
			return m.toastError("Still generating - press esc to stop first")
		case errors.Is(err, session.ErrEmptyMessage):
			return nil
		default:
			return m.toastError(err.Error())
		}
	}

	m.input.Reset()
	m.toast.Clear()
	return nil
}

// =============================================================================
// SESSION EVENTS
// =============================================================================

// handleSessionEvent reacts to one session event and re-arms the event
// wait. Progress events only mark the transcript dirty; the stream tick
// does the actual redraw.
func (m *Model) handleSessionEvent(ev session.Event) tea.Cmd {
	cmds := []tea.Cmd{m.waitForSessionEvent()}

	switch ev.Type {
	case session.EventStreamStarted:
		m.refreshViewport()
		cmds = append(cmds, m.spin.Start("Thinking"), streamTickCmd())

	case session.EventStreamProgress:
		m.spin.Stop()
		m.throttle.MarkDirty()

	case session.EventStreamCompleted:
		m.spin.Stop()
		m.throttle.ForceTake()
		m.refreshViewport()
		cmds = append(cmds, m.loadChatsCmd())

	case session.EventStreamAborted:
		m.spin.Stop()
		m.throttle.ForceTake()
		m.refreshViewport()
		cmds = append(cmds, m.toastInfo("Stopped - partial reply kept"), m.loadChatsCmd())

	case session.EventStreamFailed:
		m.spin.Stop()
		m.refreshViewport()
		if ev.Err != nil {
			cmds = append(cmds, m.toastError(ev.Err.Error()))
		}

	case session.EventPersistFailed:
		m.spin.Stop()
		m.refreshViewport()
		cmds = append(cmds, m.toastError("Reply shown but not saved: storage unavailable"))

	case session.EventChatChanged:
		m.refreshViewport()
	}

	return tea.Batch(cmds...)
}

// handleStreamTick redraws at the capped rate while streaming.
func (m *Model) handleStreamTick() tea.Cmd {
	if m.sess.State() == session.StateIdle {
		if m.throttle.ForceTake() {
			m.refreshViewport()
		}
		return nil
	}

	if m.throttle.TakeDirty() {
		m.refreshViewport()
	}
	return streamTickCmd()
}

// =============================================================================
// CHAT OPERATION RESULTS
// =============================================================================

func (m *Model) handleChatOpDone(msg ChatOpDoneMsg) tea.Cmd {
	if msg.Err != nil {
		return m.toastError("Failed to " + msg.Op + ": " + msg.Err.Error())
	}

	m.refreshViewport()
	switch msg.Op {
	case "load":
		return m.loadChatsCmd()
	case "save model preference":
		return nil
	default:
		return tea.Batch(m.toastSuccess("Done: "+msg.Op), m.loadChatsCmd())
	}
}
