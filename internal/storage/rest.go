// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and their messages.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"ollamachat/internal/model"
)

// =============================================================================
// REST STORE
// =============================================================================

// RESTStore talks to a chatd backend over HTTP. It implements Store with
// the same semantics as the embedded store; the append idempotency key is
// carried in the Idempotency-Key header and enforced server-side.
type RESTStore struct {
	baseURL    string
	httpClient *http.Client
}

// NewRESTStore creates a store client for the chatd backend at baseURL.
func NewRESTStore(baseURL string, timeout time.Duration) *RESTStore {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &RESTStore{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Close is a no-op; the REST store holds no resources.
func (s *RESTStore) Close() error {
	return nil
}

// Ping verifies the backend is reachable.
func (s *RESTStore) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	return s.doJSON(ctx, http.MethodGet, "/health", nil, "", &out)
}

// =============================================================================
// WIRE TYPES
// =============================================================================

type createChatRequest struct {
	Name string `json:"name"`
}

type renameChatRequest struct {
	Name string `json:"name"`
}

type appendMessagesRequest struct {
	Messages    []model.Message `json:"messages"`
	NewChatName string          `json:"newChatName,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// STORE IMPLEMENTATION
// =============================================================================

// CreateChat creates an empty chat with the given name.
func (s *RESTStore) CreateChat(ctx context.Context, name string) (*model.Chat, error) {
	var chat model.Chat
	err := s.doJSON(ctx, http.MethodPost, "/chats", createChatRequest{Name: name}, "", &chat)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// ListChats returns chat metadata sorted by UpdatedAt, newest first.
func (s *RESTStore) ListChats(ctx context.Context) ([]model.ChatMeta, error) {
	metas := []model.ChatMeta{}
	if err := s.doJSON(ctx, http.MethodGet, "/chats", nil, "", &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// GetChat returns a chat with its full message history.
func (s *RESTStore) GetChat(ctx context.Context, id string) (*model.Chat, error) {
	var chat model.Chat
	if err := s.doJSON(ctx, http.MethodGet, "/chats/"+url.PathEscape(id), nil, "", &chat); err != nil {
		return nil, err
	}
	return &chat, nil
}

// RenameChat sets the chat's name.
func (s *RESTStore) RenameChat(ctx context.Context, id, name string) error {
	return s.doJSON(ctx, http.MethodPatch, "/chats/"+url.PathEscape(id), renameChatRequest{Name: name}, "", nil)
}

// DeleteChat removes the chat and all its messages.
func (s *RESTStore) DeleteChat(ctx context.Context, id string) error {
	return s.doJSON(ctx, http.MethodDelete, "/chats/"+url.PathEscape(id), nil, "", nil)
}

// AppendMessages atomically appends messages, optionally renaming the
// chat, and returns the updated chat.
func (s *RESTStore) AppendMessages(ctx context.Context, chatID string, msgs []model.Message, newName, turnKey string) (*model.Chat, error) {
	if len(msgs) == 0 {
		return nil, ErrEmptyAppend
	}

	var chat model.Chat
	err := s.doJSON(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages",
		appendMessagesRequest{Messages: msgs, NewChatName: newName}, turnKey, &chat)
	if err != nil {
		return nil, err
	}
	return &chat, nil
}

// =============================================================================
// IMAGE UPLOAD
// =============================================================================

// UploadImage streams an image to the backend and returns its serving URL.
func (s *RESTStore) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := io.Copy(part, r); err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to finish multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/upload", &body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", s.statusError(resp)
	}

	var out struct {
		ImageURL string `json:"imageUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	return out.ImageURL, nil
}

// =============================================================================
// HTTP PLUMBING
// =============================================================================

// doJSON performs a JSON request against the backend. A nil out pointer
// discards the response body.
func (s *RESTStore) doJSON(ctx context.Context, method, path string, in any, turnKey string, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if turnKey != "" {
		req.Header.Set("Idempotency-Key", turnKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat backend request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w", ErrChatNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return s.statusError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// statusError extracts the backend's error message from a failed response.
func (s *RESTStore) statusError(resp *http.Response) error {
	var errResp errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err == nil && errResp.Error != "" {
		return errors.New("chat backend: " + errResp.Error)
	}
	return fmt.Errorf("chat backend returned %s", resp.Status)
}
