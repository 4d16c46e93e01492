// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session coordinates a single chat conversation: transcript
// state, the in-flight generation stream, and persistence hand-off.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ollamachat/internal/model"
	"ollamachat/internal/ollama"
)

// =============================================================================
// IN-MEMORY STORE
// =============================================================================

// memStore is a Store double that records append turn keys.
type memStore struct {
	mu       sync.Mutex
	chats    map[string]*model.Chat
	applied  map[string]bool
	turnKeys []string
}

func newMemStore() *memStore {
	return &memStore{
		chats:   make(map[string]*model.Chat),
		applied: make(map[string]bool),
	}
}

func (m *memStore) CreateChat(ctx context.Context, name string) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat := model.NewChat(name)
	m.chats[chat.ID] = chat
	return copyChat(chat), nil
}

func (m *memStore) ListChats(ctx context.Context) ([]model.ChatMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metas := []model.ChatMeta{}
	for _, c := range m.chats {
		metas = append(metas, c.Meta())
	}
	return metas, nil
}

func (m *memStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[id]
	if !ok {
		return nil, fmt.Errorf("chat not found: %s", id)
	}
	return copyChat(chat), nil
}

func (m *memStore) RenameChat(ctx context.Context, id, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[id]
	if !ok {
		return fmt.Errorf("chat not found: %s", id)
	}
	chat.Name = name
	chat.UpdatedAt = time.Now()
	return nil
}

func (m *memStore) DeleteChat(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return fmt.Errorf("chat not found: %s", id)
	}
	delete(m.chats, id)
	return nil
}

func (m *memStore) AppendMessages(ctx context.Context, chatID string, msgs []model.Message, newName, turnKey string) (*model.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	chat, ok := m.chats[chatID]
	if !ok {
		return nil, fmt.Errorf("chat not found: %s", chatID)
	}

	if turnKey != "" {
		m.turnKeys = append(m.turnKeys, turnKey)
		if m.applied[turnKey] {
			return copyChat(chat), nil
		}
		m.applied[turnKey] = true
	}

	chat.Messages = append(chat.Messages, msgs...)
	if newName != "" {
		chat.Name = newName
	}
	chat.UpdatedAt = time.Now()
	return copyChat(chat), nil
}

func (m *memStore) Close() error { return nil }

func copyChat(c *model.Chat) *model.Chat {
	cp := *c
	cp.Messages = make([]model.Message, len(c.Messages))
	copy(cp.Messages, c.Messages)
	return &cp
}

func (m *memStore) onlyChat(t *testing.T) *model.Chat {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.chats, 1, "expected exactly one stored chat")
	for _, c := range m.chats {
		return copyChat(c)
	}
	return nil
}

// =============================================================================
// FAKE INFERENCE SERVER
// =============================================================================

// fakeOllama serves a scripted token stream and records requests.
type fakeOllama struct {
	mu       sync.Mutex
	requests []ollama.ChatRequest

	tokens []string
	status int
	// hold keeps the stream open after sending tokens until released.
	hold    chan struct{}
	sentAll chan struct{}
}

func newFakeOllama(tokens ...string) *fakeOllama {
	return &fakeOllama{
		tokens:  tokens,
		status:  http.StatusOK,
		sentAll: make(chan struct{}, 16),
	}
}

func (f *fakeOllama) lastRequest() ollama.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/api/chat" {
		http.NotFound(w, r)
		return
	}

	var req ollama.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	status := f.status
	f.mu.Unlock()

	if status != http.StatusOK {
		http.Error(w, `{"error":"scripted failure"}`, status)
		return
	}

	flusher := w.(http.Flusher)
	for _, token := range f.tokens {
		fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", token)
		flusher.Flush()
	}
	select {
	case f.sentAll <- struct{}{}:
	default:
	}

	if f.hold != nil {
		<-f.hold
		return
	}
	fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
}

// =============================================================================
// TEST HARNESS
// =============================================================================

func newTestSession(t *testing.T, fake *fakeOllama) (*Session, *memStore) {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: srv.URL})
	store := newMemStore()
	sess := New(client, store, nil, Options{Model: "llama2"})
	return sess, store
}

// waitEvent drains the event channel until the wanted type shows up.
func waitEvent(t *testing.T, sess *Session, want EventType) Event {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case ev := <-sess.Events():
			if ev.Type == want {
				return ev
			}
			switch ev.Type {
			case EventStreamFailed, EventPersistFailed:
				if want != EventStreamFailed && want != EventPersistFailed {
					t.Fatalf("Unexpected failure event %s: %v", ev.Type, ev.Err)
				}
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s event", want)
		}
	}
}

// =============================================================================
// STREAMING TURN TESTS
// =============================================================================

func TestSession_SubmitStreamsAndPersists(t *testing.T) {
	sess, store := newTestSession(t, newFakeOllama("The ", "answer ", "is 42."))

	require.NoError(t, sess.Submit("What is the answer?"))
	waitEvent(t, sess, EventStreamCompleted)

	snap := sess.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, model.RoleUser, snap.Messages[0].Role)
	require.Equal(t, "What is the answer?", snap.Messages[0].Content)
	require.Equal(t, model.RoleAssistant, snap.Messages[1].Role)
	require.Equal(t, "The answer is 42.", snap.Messages[1].Content)

	// Exactly one chat, exactly one persisted pair, named from the first
	// user message.
	chat := store.onlyChat(t)
	require.Len(t, chat.Messages, 2)
	require.Equal(t, "What is the answer?", chat.Name)
	require.Equal(t, snap.ChatID, chat.ID)
}

func TestSession_SubmitWhileStreamingRejected(t *testing.T) {
	fake := newFakeOllama("slow")
	fake.hold = make(chan struct{})
	sess, _ := newTestSession(t, fake)

	require.NoError(t, sess.Submit("first"))

	select {
	case <-fake.sentAll:
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for stream to start")
	}

	require.ErrorIs(t, sess.Submit("second"), ErrBusy)
	require.ErrorIs(t, sess.NewChat(), ErrBusy)
	require.ErrorIs(t, sess.LoadChat(context.Background(), "any"), ErrBusy)

	// Releasing the stream ends it server-side; the turn completes.
	close(fake.hold)
	waitEvent(t, sess, EventStreamCompleted)
}

func TestSession_AbortPreservesPartialAndPersists(t *testing.T) {
	fake := newFakeOllama("partial ", "reply")
	fake.hold = make(chan struct{})
	defer close(fake.hold)
	sess, store := newTestSession(t, fake)

	require.NoError(t, sess.Submit("tell me everything"))
	waitEvent(t, sess, EventStreamProgress)

	select {
	case <-fake.sentAll:
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for tokens")
	}

	require.True(t, sess.Abort())
	waitEvent(t, sess, EventStreamAborted)

	snap := sess.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Len(t, snap.Messages, 2)
	require.Contains(t, snap.Messages[1].Content, "partial")

	// The partial pair is persisted like a completed one.
	chat := store.onlyChat(t)
	require.Len(t, chat.Messages, 2)
	require.Equal(t, snap.Messages[1].Content, chat.Messages[1].Content)

	// Session is usable again.
	require.False(t, sess.Abort())
}

func TestSession_TransportFailureDropsPlaceholder(t *testing.T) {
	fake := newFakeOllama()
	fake.status = http.StatusInternalServerError
	sess, store := newTestSession(t, fake)

	require.NoError(t, sess.Submit("doomed"))
	ev := waitEvent(t, sess, EventStreamFailed)
	require.Error(t, ev.Err)

	// The user message survives for a manual retry; the placeholder is
	// gone and nothing reached the store.
	snap := sess.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Len(t, snap.Messages, 1)
	require.Equal(t, model.RoleUser, snap.Messages[0].Role)

	chat := store.onlyChat(t)
	require.Empty(t, chat.Messages)
	require.Equal(t, "New Chat", chat.Name)
}

func TestSession_TerminalEventSurvivesFullBuffer(t *testing.T) {
	sess, _ := newTestSession(t, newFakeOllama())

	// Saturate the buffer with progress events; one more is droppable
	// because the next event re-reads the same snapshot.
	for i := 0; i < cap(sess.events); i++ {
		sess.emit(Event{Type: EventStreamProgress})
	}
	sess.emit(Event{Type: EventStreamProgress})

	// A failure event must reach the render layer even with the buffer
	// full: it waits for the reader instead of being dropped.
	delivered := make(chan struct{})
	go func() {
		sess.emit(Event{Type: EventStreamFailed, Err: fmt.Errorf("stream broke")})
		close(delivered)
	}()

	ev := waitEvent(t, sess, EventStreamFailed)
	require.Error(t, ev.Err)

	select {
	case <-delivered:
	case <-time.After(10 * time.Second):
		t.Fatal("Timed out waiting for the terminal event send to finish")
	}
}

func TestSession_SecondTurnDoesNotRename(t *testing.T) {
	sess, store := newTestSession(t, newFakeOllama("ok"))

	require.NoError(t, sess.Submit("first question"))
	waitEvent(t, sess, EventStreamCompleted)
	require.NoError(t, sess.Submit("second question"))
	waitEvent(t, sess, EventStreamCompleted)

	chat := store.onlyChat(t)
	require.Equal(t, "first question", chat.Name)
	require.Len(t, chat.Messages, 4)
}

func TestSession_TurnKeysAreUniquePerTurn(t *testing.T) {
	sess, store := newTestSession(t, newFakeOllama("ok"))

	require.NoError(t, sess.Submit("one"))
	waitEvent(t, sess, EventStreamCompleted)
	require.NoError(t, sess.Submit("two"))
	waitEvent(t, sess, EventStreamCompleted)

	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.turnKeys, 2)
	require.NotEmpty(t, store.turnKeys[0])
	require.NotEqual(t, store.turnKeys[0], store.turnKeys[1])
}

// =============================================================================
// PERSONA TESTS
// =============================================================================

func TestSession_PersonaSentButNeverPersisted(t *testing.T) {
	fake := newFakeOllama("aye")
	sess, store := newTestSession(t, fake)

	persona, ok := model.FindPersona(model.BuiltinPersonas, "teacher")
	require.True(t, ok)
	sess.SetPersona(persona)

	require.NoError(t, sess.Submit("explain recursion"))
	waitEvent(t, sess, EventStreamCompleted)

	// The outbound request leads with the persona system prompt.
	req := fake.lastRequest()
	require.GreaterOrEqual(t, len(req.Messages), 2)
	require.Equal(t, "system", req.Messages[0].Role)
	require.Equal(t, persona.Prompt, req.Messages[0].Content)

	// Neither transcript nor store contains a system message.
	for _, m := range sess.Snapshot().Messages {
		require.NotEqual(t, model.RoleSystem, m.Role)
	}
	for _, m := range store.onlyChat(t).Messages {
		require.NotEqual(t, model.RoleSystem, m.Role)
	}
}

// =============================================================================
// CHAT LIFECYCLE TESTS
// =============================================================================

func TestSession_DeleteActiveChatResetsSession(t *testing.T) {
	sess, store := newTestSession(t, newFakeOllama("hi"))

	require.NoError(t, sess.Submit("hello"))
	waitEvent(t, sess, EventStreamCompleted)

	chatID := sess.Snapshot().ChatID
	require.NotEmpty(t, chatID)

	require.NoError(t, sess.DeleteChat(context.Background(), chatID))

	snap := sess.Snapshot()
	require.Empty(t, snap.ChatID)
	require.Empty(t, snap.Messages)

	store.mu.Lock()
	require.Empty(t, store.chats)
	store.mu.Unlock()
}

func TestSession_LoadChatReplacesTranscript(t *testing.T) {
	sess, store := newTestSession(t, newFakeOllama("hi"))

	require.NoError(t, sess.Submit("hello"))
	waitEvent(t, sess, EventStreamCompleted)
	first := sess.Snapshot().ChatID

	require.NoError(t, sess.NewChat())
	require.Empty(t, sess.Snapshot().Messages)

	require.NoError(t, sess.LoadChat(context.Background(), first))
	snap := sess.Snapshot()
	require.Equal(t, first, snap.ChatID)
	require.Len(t, snap.Messages, 2)
	require.Equal(t, store.onlyChat(t).Name, snap.ChatName)
}

func TestSession_RenameChat(t *testing.T) {
	sess, store := newTestSession(t, newFakeOllama("hi"))

	require.ErrorIs(t, sess.RenameChat(context.Background(), "x"), ErrNoActiveChat)

	require.NoError(t, sess.Submit("hello"))
	waitEvent(t, sess, EventStreamCompleted)

	require.NoError(t, sess.RenameChat(context.Background(), "renamed"))
	require.Equal(t, "renamed", sess.Snapshot().ChatName)
	require.Equal(t, "renamed", store.onlyChat(t).Name)
}

func TestSession_SubmitValidation(t *testing.T) {
	sess, _ := newTestSession(t, newFakeOllama())
	require.ErrorIs(t, sess.Submit("   "), ErrEmptyMessage)
}
