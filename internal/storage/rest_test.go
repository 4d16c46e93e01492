// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and their messages.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"ollamachat/internal/model"
)

func fakeBackend(t *testing.T, handler http.HandlerFunc) *RESTStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTStore(srv.URL, 5*time.Second)
}

// =============================================================================
// REST STORE TESTS
// =============================================================================

func TestRESTStore_CreateChat(t *testing.T) {
	store := fakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/chats" {
			t.Errorf("Unexpected request: %s %s", r.Method, r.URL.Path)
		}
		var req struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if req.Name != "New Chat" {
			t.Errorf("Name = %q", req.Name)
		}
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"c1","name":"New Chat","messages":[]}`)
	})

	chat, err := store.CreateChat(context.Background(), "New Chat")
	if err != nil {
		t.Fatalf("CreateChat failed: %v", err)
	}
	if chat.ID != "c1" {
		t.Errorf("ID = %q, want c1", chat.ID)
	}
}

func TestRESTStore_AppendMessages_SendsIdempotencyKey(t *testing.T) {
	var gotKey string
	store := fakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chats/c1/messages" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		gotKey = r.Header.Get("Idempotency-Key")

		var req struct {
			Messages    []model.Message `json:"messages"`
			NewChatName string          `json:"newChatName"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Messages) != 2 {
			t.Errorf("Expected 2 messages, got %d", len(req.Messages))
		}
		if req.NewChatName != "hello" {
			t.Errorf("NewChatName = %q", req.NewChatName)
		}

		fmt.Fprint(w, `{"id":"c1","name":"hello","messages":[{"id":"m1","role":"user","content":"hello"},{"id":"m2","role":"assistant","content":"hi"}]}`)
	})

	pair := []model.Message{
		model.NewUserMessage("hello"),
		model.NewMessage(model.RoleAssistant, "hi"),
	}
	chat, err := store.AppendMessages(context.Background(), "c1", pair, "hello", "turn-xyz")
	if err != nil {
		t.Fatalf("AppendMessages failed: %v", err)
	}

	if gotKey != "turn-xyz" {
		t.Errorf("Idempotency-Key = %q, want turn-xyz", gotKey)
	}
	if len(chat.Messages) != 2 {
		t.Errorf("Expected 2 messages in response, got %d", len(chat.Messages))
	}
}

func TestRESTStore_GetChat_NotFound(t *testing.T) {
	store := fakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
	})

	_, err := store.GetChat(context.Background(), "missing")
	if !errors.Is(err, ErrChatNotFound) {
		t.Errorf("Expected ErrChatNotFound, got %v", err)
	}
}

func TestRESTStore_ServerErrorMessage(t *testing.T) {
	store := fakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"disk full"}`, http.StatusInternalServerError)
	})

	_, err := store.ListChats(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error should carry the backend message, got %v", err)
	}
}

func TestRESTStore_UploadImage(t *testing.T) {
	store := fakeBackend(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile failed: %v", err)
		}
		defer file.Close()
		if header.Filename != "cat.png" {
			t.Errorf("Filename = %q", header.Filename)
		}
		fmt.Fprint(w, `{"imageUrl":"/images/abc-cat.png"}`)
	})

	url, err := store.UploadImage(context.Background(), "cat.png", strings.NewReader("not-really-a-png"))
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}
	if url != "/images/abc-cat.png" {
		t.Errorf("URL = %q", url)
	}
}

// =============================================================================
// LOCAL IMAGE STORE TESTS
// =============================================================================

func TestLocalImageStore_UploadImage(t *testing.T) {
	dir := t.TempDir()
	store, err := NewLocalImageStore(dir)
	if err != nil {
		t.Fatalf("NewLocalImageStore failed: %v", err)
	}

	path, err := store.UploadImage(context.Background(), "my photo!.png", strings.NewReader("data"))
	if err != nil {
		t.Fatalf("UploadImage failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Saved image unreadable: %v", err)
	}
	if string(content) != "data" {
		t.Errorf("Content = %q", string(content))
	}
	if strings.ContainsAny(path[len(dir):], "!") {
		t.Errorf("Unsafe characters should be sanitized: %q", path)
	}

	// A second upload of the same name must not collide.
	path2, err := store.UploadImage(context.Background(), "my photo!.png", strings.NewReader("data2"))
	if err != nil {
		t.Fatalf("Second UploadImage failed: %v", err)
	}
	if path2 == path {
		t.Error("Uploads of the same filename should get unique paths")
	}
}
