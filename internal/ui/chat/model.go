// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the TUI.
package chat

import (
	"context"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"ollamachat/internal/config"
	"ollamachat/internal/model"
	"ollamachat/internal/ollama"
	"ollamachat/internal/session"
	"ollamachat/internal/ui/components"
	"ollamachat/internal/ui/styles"
)

// =============================================================================
// MODEL
// =============================================================================

// Model is the root Bubble Tea model for the chat interface.
type Model struct {
	sess  *session.Session
	cfg   *config.Config
	theme *styles.Theme
	keys  KeyMap

	viewport viewport.Model
	input    textinput.Model
	spin     components.Spinner
	sidebar  *components.Sidebar
	toast    *components.Toast
	renderer *components.MessageRenderer
	throttle *RenderThrottle

	width  int
	height int
	ready  bool

	showSidebar bool
	healthOK    bool
	models      []ollama.ModelInfo
}

// New creates the chat model over a session.
func New(sess *session.Session, cfg *config.Config) *Model {
	theme := styles.NewTheme(cfg.UI.Theme)

	input := textinput.New()
	input.Placeholder = "Ask anything (or /help)"
	input.PlaceholderStyle = theme.InputPlaceholder
	input.Prompt = theme.InputPrompt.Render("> ")
	input.CharLimit = 0
	input.Focus()

	return &Model{
		sess:     sess,
		cfg:      cfg,
		theme:    theme,
		keys:     DefaultKeyMap(),
		input:    input,
		spin:     components.NewSpinner(theme),
		sidebar:  components.NewSidebar(theme, 36),
		toast:    components.NewToast(theme),
		throttle: NewRenderThrottle(30),
	}
}

// Init starts the background loops: session event delivery, model
// discovery, and the chat list.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		m.waitForSessionEvent(),
		m.healthCheckCmd(),
		m.loadModelsCmd(),
		m.loadChatsCmd(),
	)
}

// =============================================================================
// BACKGROUND COMMANDS
// =============================================================================

// waitForSessionEvent blocks on the session's event channel and feeds
// the next event into the Bubble Tea loop. Re-issued after every event.
func (m *Model) waitForSessionEvent() tea.Cmd {
	events := m.sess.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return nil
		}
		return SessionEventMsg{Event: ev}
	}
}

func (m *Model) healthCheckCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		_, err := sess.ListModels(context.Background())
		return HealthMsg{Running: err == nil, Err: err}
	}
}

func (m *Model) loadModelsCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		models, err := sess.ListModels(context.Background())
		return ModelsLoadedMsg{Models: models, Err: err}
	}
}

func (m *Model) loadChatsCmd() tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		metas, err := sess.ListChats(context.Background())
		return ChatsLoadedMsg{Metas: metas, Err: err}
	}
}

// =============================================================================
// TRANSCRIPT REFRESH
// =============================================================================

// refreshViewport re-renders the transcript from the session snapshot.
func (m *Model) refreshViewport() {
	if !m.ready || m.renderer == nil {
		return
	}

	snap := m.sess.Snapshot()
	streamingID := ""
	if snap.State != session.StateIdle && len(snap.Messages) > 0 {
		streamingID = snap.Messages[len(snap.Messages)-1].ID
	}

	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.renderer.RenderAll(snap.Messages, streamingID))
	if atBottom || streamingID != "" {
		m.viewport.GotoBottom()
	}
}

// starterPrompt returns the numbered starter prompt, if any.
func starterPrompt(n int) (model.StarterPrompt, bool) {
	if n < 1 || n > len(model.StarterPrompts) {
		return model.StarterPrompt{}, false
	}
	return model.StarterPrompts[n-1], true
}
