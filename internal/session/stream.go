// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates a single chat conversation: transcript
// state, the in-flight generation stream, and persistence hand-off.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"ollamachat/internal/model"
	"ollamachat/internal/ollama"
)

// =============================================================================
// SUBMIT / ABORT
// =============================================================================

// Submit starts a generation turn for the given user input. The user
// message and an empty assistant placeholder appear in the transcript
// immediately; tokens fill the placeholder as they stream. Returns
// ErrBusy while a turn is in flight and ErrEmptyMessage for blank input.
func (s *Session) Submit(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrBusy
	}

	userMsg := model.NewUserMessage(content)
	placeholder := model.NewAssistantMessage()
	s.messages = append(s.messages, userMsg, placeholder)

	// firstTurn decides whether persisting this pair also names the chat.
	firstTurn := s.chat == nil || len(s.chat.Messages) == 0

	ctx, cancel := context.WithCancel(context.Background())
	s.state = StateStreaming
	s.cancel = cancel

	outbound := s.buildWireMessagesLocked(placeholder.ID)
	modelName := s.modelName
	s.mu.Unlock()

	s.emit(Event{Type: EventStreamStarted})

	// Each turn gets a fresh idempotency key so a replayed save after a
	// failure cannot double-append.
	go s.runTurn(ctx, cancel, userMsg, placeholder.ID, outbound, modelName, firstTurn, uuid.NewString())
	return nil
}

// Abort cancels the in-flight generation. Partial content stays in the
// transcript and is persisted like a completed turn. Returns false when
// nothing was running.
func (s *Session) Abort() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateStreaming || s.cancel == nil {
		return false
	}
	s.state = StateAborting
	s.cancel()
	return true
}

// =============================================================================
// TURN GOROUTINE
// =============================================================================

// runTurn drives one generation turn: lazy chat creation, the token
// stream, and the exactly-once persistence of the {user, assistant} pair.
func (s *Session) runTurn(ctx context.Context, cancel context.CancelFunc, userMsg model.Message, placeholderID string, outbound []ollama.Message, modelName string, firstTurn bool, turnKey string) {
	defer cancel()

	// The chat row is created lazily on the first turn. Store operations
	// use a background context so an abort of the stream never cancels
	// persistence.
	chatID, err := s.ensureChat(context.Background())
	if err != nil {
		s.failTurn(placeholderID, err)
		return
	}

	acc := ollama.NewStreamAccumulator()
	streamErr := s.client.ChatStream(ctx, modelName, outbound, func(chunk ollama.StreamChunk) {
		acc.Add(chunk)
		if chunk.Content == "" {
			return
		}
		// Republish the full accumulated text; renderers replace the
		// placeholder's content wholesale, so a missed event cannot
		// desynchronize the transcript.
		s.mu.Lock()
		s.setMessageContent(placeholderID, acc.GetContent())
		s.mu.Unlock()
		s.emit(Event{Type: EventStreamProgress})
	})

	aborted := errors.Is(streamErr, context.Canceled)
	if streamErr != nil && !aborted {
		// Transport or server failure: the reply never happened. Drop
		// the placeholder and persist nothing; the user's message stays
		// visible so it can be retried by hand.
		s.failTurn(placeholderID, streamErr)
		return
	}

	assistant := model.Message{
		ID:        placeholderID,
		Role:      model.RoleAssistant,
		Content:   acc.GetContent(),
		Type:      model.ContentText,
		CreatedAt: time.Now(),
	}

	var newName string
	if firstTurn {
		newName = model.NameFromContent(userMsg.Content)
	}

	updated, persistErr := s.store.AppendMessages(context.Background(), chatID,
		[]model.Message{userMsg, assistant}, newName, turnKey)

	s.mu.Lock()
	if persistErr == nil {
		s.adoptChat(updated)
	} else {
		// Keep the turn visible even though it is not saved.
		s.setMessageContent(placeholderID, assistant.Content)
	}
	s.state = StateIdle
	s.cancel = nil
	s.mu.Unlock()

	switch {
	case persistErr != nil:
		s.logger.Printf("session: failed to persist turn: %v", persistErr)
		s.emit(Event{Type: EventPersistFailed, Err: persistErr})
	case aborted:
		s.emit(Event{Type: EventStreamAborted})
	default:
		s.emit(Event{Type: EventStreamCompleted})
	}
}

// failTurn unwinds a turn whose reply never arrived.
func (s *Session) failTurn(placeholderID string, err error) {
	s.mu.Lock()
	s.removeMessage(placeholderID)
	s.state = StateIdle
	s.cancel = nil
	s.mu.Unlock()

	s.logger.Printf("session: turn failed: %v", err)
	s.emit(Event{Type: EventStreamFailed, Err: err})
}

// buildWireMessagesLocked converts the transcript into the outbound
// request payload. The active persona is prepended as a system message;
// the assistant placeholder is excluded. Caller holds the lock.
func (s *Session) buildWireMessagesLocked(placeholderID string) []ollama.Message {
	outbound := make([]ollama.Message, 0, len(s.messages)+1)
	if s.hasPersona && s.persona.Prompt != "" {
		outbound = append(outbound, ollama.Message{
			Role:    model.RoleSystem.String(),
			Content: s.persona.Prompt,
		})
	}
	for _, m := range s.messages {
		if m.ID == placeholderID {
			continue
		}
		outbound = append(outbound, ollama.Message{
			Role:    m.Role.String(),
			Content: m.Content,
		})
	}
	return outbound
}
