// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"ollamachat/internal/model"
	"ollamachat/internal/storage"
)

// newTestServer wires a chatd handler over a throwaway SQLite store.
func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewSQLiteStore(filepath.Join(dir, "chat.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := New(store, Config{
		ImageDir: filepath.Join(dir, "images"),
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any, headers map[string]string) *http.Response {
	t.Helper()

	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var health struct {
		Status string `json:"status"`
	}
	decodeInto(t, resp, &health)
	if health.Status != "ok" {
		t.Errorf("status = %q, want %q", health.Status, "ok")
	}
}

func TestCreateAndGetChat(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/chats", map[string]string{"name": "Planning"}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", resp.StatusCode)
	}
	var chat model.Chat
	decodeInto(t, resp, &chat)
	if chat.ID == "" || chat.Name != "Planning" {
		t.Fatalf("unexpected chat: %+v", chat)
	}

	getResp, err := http.Get(ts.URL + "/chats/" + chat.ID)
	if err != nil {
		t.Fatalf("GET chat: %v", err)
	}
	var fetched model.Chat
	decodeInto(t, getResp, &fetched)
	if fetched.ID != chat.ID {
		t.Errorf("fetched ID = %q, want %q", fetched.ID, chat.ID)
	}
}

func TestGetChat_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/chats/no-such-chat")
	if err != nil {
		t.Fatalf("GET chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAppendMessages_IdempotentReplay(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/chats", map[string]string{"name": "New Chat"}, nil)
	var chat model.Chat
	decodeInto(t, resp, &chat)

	pair := []model.Message{
		model.NewUserMessage("what is a goroutine?"),
		{ID: "a1", Role: model.RoleAssistant, Content: "A lightweight thread."},
	}
	body := map[string]any{"messages": pair, "newChatName": "what is a goroutine?"}
	headers := map[string]string{"Idempotency-Key": "turn-1"}

	first := postJSON(t, ts.URL+"/chats/"+chat.ID+"/messages", body, headers)
	if first.StatusCode != http.StatusOK {
		t.Fatalf("append status = %d, want 200", first.StatusCode)
	}
	var afterFirst model.Chat
	decodeInto(t, first, &afterFirst)
	if len(afterFirst.Messages) != 2 {
		t.Fatalf("messages after first append = %d, want 2", len(afterFirst.Messages))
	}
	if afterFirst.Name != "what is a goroutine?" {
		t.Errorf("name = %q, want rename applied", afterFirst.Name)
	}

	// Same key again: the append must not double-apply.
	replay := postJSON(t, ts.URL+"/chats/"+chat.ID+"/messages", body, headers)
	var afterReplay model.Chat
	decodeInto(t, replay, &afterReplay)
	if len(afterReplay.Messages) != 2 {
		t.Errorf("messages after replay = %d, want 2", len(afterReplay.Messages))
	}
}

func TestAppendMessages_EmptyRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/chats", map[string]string{"name": "New Chat"}, nil)
	var chat model.Chat
	decodeInto(t, resp, &chat)

	bad := postJSON(t, ts.URL+"/chats/"+chat.ID+"/messages", map[string]any{"messages": []model.Message{}}, nil)
	defer bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", bad.StatusCode)
	}
}

func TestRenameChat_EmptyNameRejected(t *testing.T) {
	ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/chats", map[string]string{"name": "New Chat"}, nil)
	var chat model.Chat
	decodeInto(t, resp, &chat)

	req, err := http.NewRequest(http.MethodPatch, ts.URL+"/chats/"+chat.ID, strings.NewReader(`{"name":"  "}`))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	patchResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("PATCH: %v", err)
	}
	defer patchResp.Body.Close()
	if patchResp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", patchResp.StatusCode)
	}
}

func TestImageNameTraversalRejected(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/images/..%2Fchat.db")
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

// TestRESTStoreRoundTrip drives the whole store surface through the
// client the chat UI actually uses.
func TestRESTStoreRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	store := storage.NewRESTStore(ts.URL, 0)

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	chat, err := store.CreateChat(ctx, "New Chat")
	if err != nil {
		t.Fatalf("CreateChat: %v", err)
	}

	pair := []model.Message{
		model.NewUserMessage("hello"),
		{ID: "a1", Role: model.RoleAssistant, Content: "hi there"},
	}
	updated, err := store.AppendMessages(ctx, chat.ID, pair, "hello", "turn-abc")
	if err != nil {
		t.Fatalf("AppendMessages: %v", err)
	}
	if len(updated.Messages) != 2 || updated.Name != "hello" {
		t.Fatalf("unexpected chat after append: %+v", updated)
	}

	metas, err := store.ListChats(ctx)
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(metas) != 1 || metas[0].ID != chat.ID {
		t.Fatalf("unexpected metas: %+v", metas)
	}

	if err := store.RenameChat(ctx, chat.ID, "greetings"); err != nil {
		t.Fatalf("RenameChat: %v", err)
	}
	renamed, err := store.GetChat(ctx, chat.ID)
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if renamed.Name != "greetings" {
		t.Errorf("name = %q, want %q", renamed.Name, "greetings")
	}

	if err := store.DeleteChat(ctx, chat.ID); err != nil {
		t.Fatalf("DeleteChat: %v", err)
	}
	if _, err := store.GetChat(ctx, chat.ID); !errors.Is(err, storage.ErrChatNotFound) {
		t.Errorf("GetChat after delete = %v, want ErrChatNotFound", err)
	}
}

func TestUploadAndServeImage(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	store := storage.NewRESTStore(ts.URL, 0)

	content := []byte("fake png bytes")
	url, err := store.UploadImage(ctx, "cat.png", bytes.NewReader(content))
	if err != nil {
		t.Fatalf("UploadImage: %v", err)
	}
	if !strings.HasPrefix(url, "/images/") {
		t.Fatalf("url = %q, want /images/ prefix", url)
	}

	resp, err := http.Get(ts.URL + url)
	if err != nil {
		t.Fatalf("GET image: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	served, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if !bytes.Equal(served, content) {
		t.Errorf("served bytes differ from upload")
	}
}
