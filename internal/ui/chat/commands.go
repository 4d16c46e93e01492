// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat provides the conversation view for the TUI.
//
// This file implements slash command parsing and dispatch. Commands are
// typed into the input line ("/new", "/model mistral", ...) and never
// become part of the conversation transcript.
package chat

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"ollamachat/internal/model"
	"ollamachat/internal/ui/components"
)

// =============================================================================
// COMMAND PARSING
// =============================================================================

// command is a parsed slash command.
type command struct {
	name string
	args string
}

// parseCommand parses a slash command from the input line. Returns
// false when the input is a plain chat message.
func parseCommand(input string) (command, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return command{}, false
	}

	name, args, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
	return command{
		name: strings.ToLower(name),
		args: strings.TrimSpace(args),
	}, true
}

// =============================================================================
// COMMAND DISPATCH
// =============================================================================

// runCommand executes a parsed command. Unknown commands surface as an
// error toast instead of being sent to the model.
func (m *Model) runCommand(c command) tea.Cmd {
	switch c.name {
	case "new":
		if err := m.sess.NewChat(); err != nil {
			return m.toastError(err.Error())
		}
		return tea.Batch(m.toastInfo("Started a new chat"), m.loadChatsCmd())

	case "chats":
		m.showSidebar = true
		return m.loadChatsCmd()

	case "load":
		return m.loadByIndexCmd(c.args)

	case "rename":
		if c.args == "" {
			return m.toastError("Usage: /rename <name>")
		}
		return func() tea.Msg {
			err := m.sess.RenameChat(context.Background(), c.args)
			return ChatOpDoneMsg{Op: "rename", Err: err}
		}

	case "delete":
		snap := m.sess.Snapshot()
		if snap.ChatID == "" {
			return m.toastError("No saved chat to delete")
		}
		return func() tea.Msg {
			err := m.sess.DeleteChat(context.Background(), snap.ChatID)
			return ChatOpDoneMsg{Op: "delete", Err: err}
		}

	case "model":
		return m.modelCommand(c.args)

	case "models":
		return m.modelCommand("")

	case "persona":
		return m.personaCommand(c.args)

	case "image":
		if c.args == "" {
			return m.toastError("Usage: /image <path>")
		}
		return func() tea.Msg {
			err := m.sess.AttachImage(context.Background(), c.args)
			return ChatOpDoneMsg{Op: "attach image", Err: err}
		}

	case "export":
		if c.args == "" {
			return m.toastError("Usage: /export <path>")
		}
		return func() tea.Msg {
			err := m.sess.Export(c.args)
			return ChatOpDoneMsg{Op: "export", Err: err}
		}

	case "help":
		return m.toastInfo(helpText())

	case "quit", "exit":
		return tea.Quit

	default:
		return m.toastError(fmt.Sprintf("Unknown command /%s (try /help)", c.name))
	}
}

// modelCommand lists installed models or switches to a named one.
func (m *Model) modelCommand(args string) tea.Cmd {
	if args == "" {
		if len(m.models) == 0 {
			return m.toastError("No models installed (try: ollama pull llama2)")
		}
		names := make([]string, 0, len(m.models))
		for _, info := range m.models {
			name := info.Name
			if name == m.sess.Model() {
				name = name + " (active)"
			}
			names = append(names, name)
		}
		sort.Strings(names)
		return m.toastInfo("Models: " + strings.Join(names, ", "))
	}

	for _, info := range m.models {
		if info.Name == args {
			m.sess.SetModel(args)
			cfg := m.cfg
			return tea.Batch(
				m.toastSuccess("Switched to "+args),
				func() tea.Msg {
					// Persist the preference so it survives restarts.
					return ChatOpDoneMsg{Op: "save model preference", Err: cfg.SaveModel(args)}
				},
			)
		}
	}
	return m.toastError(fmt.Sprintf("Model %q is not installed", args))
}

// personaCommand lists personas, switches to one, or clears it.
func (m *Model) personaCommand(args string) tea.Cmd {
	personas := m.cfg.AllPersonas()

	if args == "" {
		keys := make([]string, 0, len(personas))
		for _, p := range personas {
			keys = append(keys, p.Key)
		}
		return m.toastInfo("Personas: " + strings.Join(keys, ", ") + " (or /persona off)")
	}

	if args == "off" || args == "none" {
		m.sess.ClearPersona()
		return m.toastInfo("Persona cleared")
	}

	if p, ok := model.FindPersona(personas, args); ok {
		m.sess.SetPersona(p)
		return m.toastSuccess("Persona: " + p.Label)
	}
	return m.toastError(fmt.Sprintf("Unknown persona %q", args))
}

// loadByIndexCmd loads the nth most recent chat (1-based).
func (m *Model) loadByIndexCmd(args string) tea.Cmd {
	n, err := strconv.Atoi(args)
	if err != nil || n < 1 {
		return m.toastError("Usage: /load <number> (see /chats)")
	}

	sess := m.sess
	return func() tea.Msg {
		metas, err := sess.ListChats(context.Background())
		if err != nil {
			return ChatOpDoneMsg{Op: "load", Err: err}
		}
		if n > len(metas) {
			return ChatOpDoneMsg{Op: "load", Err: fmt.Errorf("only %d chats saved", len(metas))}
		}
		return ChatOpDoneMsg{Op: "load", Err: sess.LoadChat(context.Background(), metas[n-1].ID)}
	}
}

// helpText lists the available commands.
func helpText() string {
	return strings.Join([]string{
		"/new - start a new chat",
		"/chats - browse saved chats",
		"/load <n> - open the nth most recent chat",
		"/rename <name> - rename the current chat",
		"/delete - delete the current chat",
		"/model [name] - list or switch models",
		"/persona [key|off] - set a system prompt persona",
		"/image <path> - attach an image",
		"/export <path> - export transcript as markdown",
		"/quit - exit",
	}, "  ")
}

// =============================================================================
// TOAST HELPERS
// =============================================================================

func (m *Model) toastInfo(text string) tea.Cmd {
	m.toast.Show(components.ToastInfo, text)
	return nil
}

func (m *Model) toastSuccess(text string) tea.Cmd {
	m.toast.Show(components.ToastSuccess, text)
	return nil
}

func (m *Model) toastError(text string) tea.Cmd {
	m.toast.Show(components.ToastError, text)
	return nil
}
