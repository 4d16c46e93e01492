// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates a single chat conversation: transcript
// state, the in-flight generation stream, and persistence hand-off.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"ollamachat/internal/model"
	"ollamachat/internal/ollama"
	"ollamachat/internal/storage"
	"ollamachat/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrBusy is returned when an operation needs an idle session but a
	// generation is in flight. Only Abort works while streaming.
	ErrBusy = errors.New("a generation is already in progress")

	// ErrEmptyMessage is returned for blank submissions.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrNoActiveChat is returned when an operation needs a persisted
	// chat but none is active.
	ErrNoActiveChat = errors.New("no active chat")
)

// =============================================================================
// STATE
// =============================================================================

// State is the session's generation state.
type State int

const (
	// StateIdle means no generation is running; all operations allowed.
	StateIdle State = iota

	// StateStreaming means a turn is in flight; only Abort is allowed.
	StateStreaming

	// StateAborting means cancellation was requested and the turn is
	// winding down.
	StateAborting
)

// String returns a readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// =============================================================================
// SESSION
// =============================================================================

// Options configures a new session.
type Options struct {
	// Model is the model name used for generation turns.
	Model string

	// Logger receives diagnostics. Defaults to the standard logger.
	Logger *log.Logger
}

// Session owns one conversation. All methods are safe for concurrent use.
// At most one generation turn runs at a time; Submit while a turn is in
// flight is rejected with ErrBusy.
type Session struct {
	client *ollama.Client
	store  storage.Store
	images storage.ImageStore
	logger *log.Logger

	mu sync.Mutex
	// chat is nil until the conversation is first persisted.
	chat       *model.Chat
	messages   []model.Message
	state      State
	cancel     context.CancelFunc
	modelName  string
	persona    model.Persona
	hasPersona bool

	events chan Event
}

// New creates a session over the given inference client and store.
func New(client *ollama.Client, store storage.Store, images storage.ImageStore, opts Options) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	modelName := opts.Model
	if modelName == "" {
		modelName = client.GetDefaultModel()
	}
	return &Session{
		client:    client,
		store:     store,
		images:    images,
		logger:    logger,
		modelName: modelName,
		messages:  []model.Message{},
		events:    make(chan Event, 128),
	}
}

// Events returns the channel the render layer listens on.
func (s *Session) Events() <-chan Event {
	return s.events
}

// emit delivers an event to the render layer. Progress events are
// droppable when the buffer is full: the render layer re-reads the
// snapshot on every event, so the next one carries the same content.
// Everything else is a state transition the render layer must see;
// those block until delivered.
func (s *Session) emit(ev Event) {
	if ev.Type == EventStreamProgress {
		select {
		case s.events <- ev:
		default:
			s.logger.Printf("session: dropping event %s", ev.Type)
		}
		return
	}
	s.events <- ev
}

// =============================================================================
// SNAPSHOT
// =============================================================================

// Snapshot is a consistent copy of the session for rendering.
type Snapshot struct {
	State      State
	ChatID     string
	ChatName   string
	Messages   []model.Message
	Model      string
	Persona    model.Persona
	HasPersona bool
}

// Snapshot returns a copy of the current session state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:      s.state,
		Model:      s.modelName,
		Persona:    s.persona,
		HasPersona: s.hasPersona,
		Messages:   make([]model.Message, len(s.messages)),
	}
	copy(snap.Messages, s.messages)
	if s.chat != nil {
		snap.ChatID = s.chat.ID
		snap.ChatName = s.chat.Name
	}
	return snap
}

// State returns the current generation state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// =============================================================================
// MODEL AND PERSONA
// =============================================================================

// Model returns the model used for generation turns.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modelName
}

// SetModel switches the generation model. Takes effect on the next turn.
func (s *Session) SetModel(name string) {
	s.mu.Lock()
	s.modelName = name
	s.mu.Unlock()
	s.emit(Event{Type: EventChatChanged})
}

// SetPersona sets the system prompt persona for subsequent turns. The
// persona prompt is sent to the model only; it is never part of the
// visible transcript and never persisted.
func (s *Session) SetPersona(p model.Persona) {
	s.mu.Lock()
	s.persona = p
	s.hasPersona = true
	s.mu.Unlock()
	s.emit(Event{Type: EventChatChanged})
}

// ClearPersona removes the active persona.
func (s *Session) ClearPersona() {
	s.mu.Lock()
	s.persona = model.Persona{}
	s.hasPersona = false
	s.mu.Unlock()
	s.emit(Event{Type: EventChatChanged})
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// NewChat resets the session to an empty, unsaved conversation.
func (s *Session) NewChat() error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.chat = nil
	s.messages = []model.Message{}
	s.mu.Unlock()

	s.emit(Event{Type: EventChatChanged})
	return nil
}

// LoadChat replaces the session's conversation with a stored one.
func (s *Session) LoadChat(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	chat, err := s.store.GetChat(ctx, id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	// A turn may have started while we were loading; don't clobber it.
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.chat = chat
	s.messages = make([]model.Message, len(chat.Messages))
	copy(s.messages, chat.Messages)
	s.mu.Unlock()

	s.emit(Event{Type: EventChatChanged})
	return nil
}

// RenameChat renames the active chat.
func (s *Session) RenameChat(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.chat == nil {
		s.mu.Unlock()
		return ErrNoActiveChat
	}
	id := s.chat.ID
	s.mu.Unlock()

	if err := s.store.RenameChat(ctx, id, name); err != nil {
		return err
	}

	s.mu.Lock()
	if s.chat != nil && s.chat.ID == id {
		s.chat.Name = name
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventChatChanged})
	return nil
}

// DeleteChat removes a stored chat. Deleting the active chat resets the
// session to an empty conversation.
func (s *Session) DeleteChat(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	if err := s.store.DeleteChat(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	if s.chat != nil && s.chat.ID == id {
		s.chat = nil
		s.messages = []model.Message{}
	}
	s.mu.Unlock()

	s.emit(Event{Type: EventChatChanged})
	return nil
}

// ListChats returns stored chat metadata, newest first.
func (s *Session) ListChats(ctx context.Context) ([]model.ChatMeta, error) {
	return s.store.ListChats(ctx)
}

// ListModels returns the models installed on the inference server.
func (s *Session) ListModels(ctx context.Context) ([]ollama.ModelInfo, error) {
	return s.client.ListModels(ctx)
}

// =============================================================================
// ATTACHMENTS AND EXPORT
// =============================================================================

// AttachImage uploads an image and appends it to the conversation as a
// user message. No generation turn is started.
func (s *Session) AttachImage(ctx context.Context, path string) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}
	s.mu.Unlock()

	if s.images == nil {
		return errors.New("image uploads are not configured")
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	url, err := s.images.UploadImage(ctx, filepath.Base(path), f)
	if err != nil {
		return err
	}

	chatID, err := s.ensureChat(ctx)
	if err != nil {
		return err
	}

	msg := model.NewImageMessage(filepath.Base(path), url)
	updated, err := s.store.AppendMessages(ctx, chatID, []model.Message{msg}, "", uuid.NewString())
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.adoptChat(updated)
	s.mu.Unlock()

	s.emit(Event{Type: EventChatChanged})
	return nil
}

// Export writes the conversation transcript as markdown.
func (s *Session) Export(path string) error {
	s.mu.Lock()
	if len(s.messages) == 0 {
		s.mu.Unlock()
		return ErrNoActiveChat
	}
	chat := model.Chat{Name: "New Chat", Messages: s.messages}
	if s.chat != nil {
		chat.Name = s.chat.Name
		chat.CreatedAt = s.chat.CreatedAt
		chat.UpdatedAt = s.chat.UpdatedAt
	}
	s.mu.Unlock()

	return util.AtomicWriteFile(path, []byte(chat.ExportMarkdown()), 0644)
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// ensureChat lazily creates the backing chat row. Callers must not hold
// the session lock.
func (s *Session) ensureChat(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.chat != nil {
		id := s.chat.ID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	chat, err := s.store.CreateChat(ctx, "New Chat")
	if err != nil {
		return "", fmt.Errorf("failed to create chat: %w", err)
	}

	s.mu.Lock()
	s.chat = chat
	s.mu.Unlock()
	return chat.ID, nil
}

// adoptChat reconciles in-memory state from the store's view. Existing
// unsaved messages (a user message whose turn failed to persist, for
// example) stay appended after the stored history. Caller holds the lock.
func (s *Session) adoptChat(chat *model.Chat) {
	stored := make(map[string]bool, len(chat.Messages))
	for _, m := range chat.Messages {
		stored[m.ID] = true
	}

	merged := make([]model.Message, 0, len(chat.Messages)+2)
	merged = append(merged, chat.Messages...)
	for _, m := range s.messages {
		if !stored[m.ID] {
			merged = append(merged, m)
		}
	}

	s.chat = chat
	s.messages = merged
}

// setMessageContent rewrites a message's content in place. Caller holds
// the lock.
func (s *Session) setMessageContent(id, content string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages[i].Content = content
			return
		}
	}
}

// removeMessage drops a message from the transcript. Caller holds the
// lock.
func (s *Session) removeMessage(id string) {
	for i := range s.messages {
		if s.messages[i].ID == id {
			s.messages = append(s.messages[:i], s.messages[i+1:]...)
			return
		}
	}
}
