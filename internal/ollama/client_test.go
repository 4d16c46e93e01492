// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the
// Ollama API.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewClientWithConfig(&ClientConfig{
		BaseURL: srv.URL,
		Timeout: 5 * time.Second,
	})
	return client, srv
}

// =============================================================================
// MODEL LISTING TESTS
// =============================================================================

func TestListModels(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("Unexpected path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"models":[{"name":"llama2","size":3825819519},{"name":"mistral","size":4109865159}]}`)
	}))

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels failed: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("Expected 2 models, got %d", len(models))
	}
	if models[0].Name != "llama2" {
		t.Errorf("First model = %q, want llama2", models[0].Name)
	}
}

func TestListModels_Unreachable(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{
		// Closed port; connection is refused immediately.
		BaseURL: "http://127.0.0.1:1",
		Timeout: 2 * time.Second,
	})

	_, err := client.ListModels(context.Background())
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Errorf("Expected ErrBackendUnavailable, got %v", err)
	}
}

// =============================================================================
// STREAMING TESTS
// =============================================================================

func streamHandler(lines []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
			flusher.Flush()
		}
	})
}

func TestChatStream_AccumulatesInOrder(t *testing.T) {
	client, _ := testClient(t, streamHandler([]string{
		`{"model":"llama2","message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"model":"llama2","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"llama2","message":{"role":"assistant","content":"!"},"done":false}`,
		`{"model":"llama2","message":{"role":"assistant","content":""},"done":true,"eval_count":3,"eval_duration":1000000000}`,
	}))

	var got []string
	var final StreamChunk
	err := client.ChatStream(context.Background(), "llama2",
		[]Message{{Role: "user", Content: "hi"}},
		func(chunk StreamChunk) {
			if chunk.Done {
				final = chunk
				return
			}
			got = append(got, chunk.Content)
		})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	if strings.Join(got, "") != "Hello!" {
		t.Errorf("Accumulated %q, want %q", strings.Join(got, ""), "Hello!")
	}
	if final.CompletionTokens != 3 {
		t.Errorf("CompletionTokens = %d, want 3", final.CompletionTokens)
	}
}

func TestChatStream_SkipsMalformedLines(t *testing.T) {
	var logBuf strings.Builder
	logger := log.New(&logBuf, "", 0)

	srv := httptest.NewServer(streamHandler([]string{
		`{"message":{"content":"good "},"done":false}`,
		`{not json at all`,
		`{"message":{"content":"still good"},"done":false}`,
		`{"message":{"content":""},"done":true}`,
	}))
	defer srv.Close()

	client := NewClientWithConfig(&ClientConfig{
		BaseURL: srv.URL,
		Logger:  logger,
	})

	var sb strings.Builder
	err := client.ChatStream(context.Background(), "llama2", nil, func(chunk StreamChunk) {
		sb.WriteString(chunk.Content)
	})
	if err != nil {
		t.Fatalf("ChatStream failed: %v", err)
	}

	if sb.String() != "good still good" {
		t.Errorf("Content = %q, want %q", sb.String(), "good still good")
	}
	if !strings.Contains(logBuf.String(), "malformed") {
		t.Errorf("Expected a logged warning about the malformed line, got %q", logBuf.String())
	}
}

func TestChatStream_ModelNotFound(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))

	err := client.ChatStream(context.Background(), "nope", nil, func(StreamChunk) {})
	if !errors.Is(err, ErrModelNotFound) {
		t.Errorf("Expected ErrModelNotFound, got %v", err)
	}
}

func TestChatStream_ServerError(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"out of memory"}`, http.StatusInternalServerError)
	}))

	err := client.ChatStream(context.Background(), "llama2", nil, func(StreamChunk) {})
	if !errors.Is(err, ErrCompletionFailed) {
		t.Errorf("Expected ErrCompletionFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "out of memory") {
		t.Errorf("Error should carry the server message, got %q", err.Error())
	}
}

func TestChatStream_CancelMidStream(t *testing.T) {
	release := make(chan struct{})
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		fmt.Fprintln(w, `{"message":{"content":"partial"},"done":false}`)
		flusher.Flush()
		// Hold the stream open until the test is done.
		<-release
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())

	gotPartial := make(chan struct{})
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.ChatStream(ctx, "llama2", nil, func(chunk StreamChunk) {
			if chunk.Content == "partial" {
				close(gotPartial)
			}
		})
	}()

	select {
	case <-gotPartial:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for first chunk")
	}

	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Stream did not terminate promptly after cancel")
	}
}

func TestChatStreamChan_DeliversErrorChunk(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"boom"}`, http.StatusInternalServerError)
	}))

	var last StreamChunk
	for chunk := range client.ChatStreamChan(context.Background(), "llama2", nil) {
		last = chunk
	}

	if last.Error == nil {
		t.Fatal("Expected an error chunk")
	}
	if !errors.Is(last.Error, ErrCompletionFailed) {
		t.Errorf("Expected ErrCompletionFailed, got %v", last.Error)
	}
}

// =============================================================================
// NON-STREAMING CHAT TESTS
// =============================================================================

func TestChat_NonStreaming(t *testing.T) {
	client, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"model":"llama2","message":{"role":"assistant","content":"Hi there"},"done":true}`)
	}))

	resp, err := client.Chat(context.Background(), "llama2", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "Hi there" {
		t.Errorf("Content = %q, want %q", resp.Message.Content, "Hi there")
	}
}

func TestDefaultConfig(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{})

	cfg := client.GetConfig()
	if cfg.BaseURL != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.DefaultModel != "llama2" {
		t.Errorf("DefaultModel = %q", cfg.DefaultModel)
	}
	if cfg.StreamTimeout != 5*time.Second {
		t.Errorf("StreamTimeout = %v", cfg.StreamTimeout)
	}
}
