// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the
// Ollama API.
package ollama

import "time"

// =============================================================================
// WIRE MESSAGE TYPES
// =============================================================================

// Message is a single message in the chat request payload.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// Images holds base64-encoded attachments for multimodal models.
	Images []string `json:"images,omitempty"`
}

// ChatRequest is the request body for /api/chat.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// ChatResponse is the response body for a non-streaming /api/chat call.
type ChatResponse struct {
	Model     string    `json:"model"`
	CreatedAt time.Time `json:"created_at"`
	Message   Message   `json:"message"`
	Done      bool      `json:"done"`

	// Statistics (present on the final response)
	TotalDuration   int64 `json:"total_duration,omitempty"`
	LoadDuration    int64 `json:"load_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
	EvalDuration    int64 `json:"eval_duration,omitempty"`
}

// =============================================================================
// MODEL LISTING TYPES
// =============================================================================

// ModelInfo describes a model installed on the server.
type ModelInfo struct {
	Name       string    `json:"name"`
	ModifiedAt time.Time `json:"modified_at"`
	Size       int64     `json:"size"`
	Digest     string    `json:"digest,omitempty"`
}

// ListModelsResponse is the response body for /api/tags.
type ListModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is a single decoded line of a streaming chat response.
type StreamChunk struct {
	// Content is the token text carried by this chunk (may be empty).
	Content string

	// Done marks the final chunk of the stream.
	Done bool

	// Model is the model name reported by the stream.
	Model string

	// DoneReason explains why generation stopped (final chunk only).
	DoneReason string

	// Statistics from the final chunk.
	TotalDuration    time.Duration
	LoadDuration     time.Duration
	EvalDuration     time.Duration
	PromptTokens     int
	CompletionTokens int

	// Error is set when the stream failed; delivered as the last chunk
	// on the channel API.
	Error error
}

// apiError is the error body Ollama returns on non-200 responses.
type apiError struct {
	Error string `json:"error"`
}
