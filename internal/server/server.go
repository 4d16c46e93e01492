// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server implements chatd, the HTTP persistence backend for the
// chat client. It exposes the chat store and image uploads over REST.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ollamachat/internal/model"
	"ollamachat/internal/storage"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// MaxRequestBodySize caps JSON request bodies at 1MB.
	MaxRequestBodySize = 1 * 1024 * 1024

	// MaxUploadSize caps image uploads at 10MB.
	MaxUploadSize = 10 * 1024 * 1024

	// DefaultPort is the port chatd listens on.
	DefaultPort = 11555
)

// =============================================================================
// SERVER
// =============================================================================

// Config configures the chatd server.
type Config struct {
	// Host is the bind address. Defaults to loopback only.
	Host string

	// Port is the listen port. Defaults to DefaultPort.
	Port int

	// ImageDir is the directory uploaded images are saved to and served
	// from. Empty disables image uploads.
	ImageDir string

	// Logger receives request and lifecycle logs. Defaults to the
	// standard logger.
	Logger *log.Logger
}

// Server is the chatd HTTP server. It fronts a storage.Store with the
// REST surface the client's remote store speaks.
type Server struct {
	store      storage.Store
	images     *storage.LocalImageStore
	imageDir   string
	logger     *log.Logger
	router     *http.ServeMux
	httpServer *http.Server
	host       string
	port       int
}

// New creates a chatd server over the given store.
func New(store storage.Store, config Config) (*Server, error) {
	if config.Host == "" {
		config.Host = "127.0.0.1"
	}
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}

	s := &Server{
		store:    store,
		imageDir: config.ImageDir,
		logger:   config.Logger,
		router:   http.NewServeMux(),
		host:     config.Host,
		port:     config.Port,
	}

	if config.ImageDir != "" {
		images, err := storage.NewLocalImageStore(config.ImageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to prepare image directory: %w", err)
		}
		s.images = images
	}

	s.routes()
	return s, nil
}

// routes registers all HTTP endpoints.
func (s *Server) routes() {
	s.router.HandleFunc("GET /health", s.handleHealth)

	s.router.HandleFunc("POST /chats", s.handleCreateChat)
	s.router.HandleFunc("GET /chats", s.handleListChats)
	s.router.HandleFunc("GET /chats/{id}", s.handleGetChat)
	s.router.HandleFunc("PATCH /chats/{id}", s.handleRenameChat)
	s.router.HandleFunc("DELETE /chats/{id}", s.handleDeleteChat)
	s.router.HandleFunc("POST /chats/{id}/messages", s.handleAppendMessages)

	s.router.HandleFunc("POST /upload", s.handleUpload)
	s.router.HandleFunc("GET /images/{name}", s.handleImage)
}

// Handler returns the server's handler with the middleware chain
// applied. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return Chain(
		RequestIDMiddleware(),
		RecoveryMiddleware(),
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(DefaultRateLimiter()),
	)(s.router)
}

// Start begins serving. Blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Printf("SERVER_START | addr=%s images=%s", addr, s.imageDir)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.logger.Printf("SERVER_STOP | addr=%s:%d", s.host, s.port)
	return s.httpServer.Shutdown(ctx)
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

type uploadResponse struct {
	ImageURL string `json:"imageUrl"`
}

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	var req createChatRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = "New Chat"
	}

	chat, err := s.store.CreateChat(r.Context(), req.Name)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, chat)
}

func (s *Server) handleListChats(w http.ResponseWriter, r *http.Request) {
	metas, err := s.store.ListChats(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, metas)
}

func (s *Server) handleGetChat(w http.ResponseWriter, r *http.Request) {
	chat, err := s.store.GetChat(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleRenameChat(w http.ResponseWriter, r *http.Request) {
	var req renameChatRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "name must not be empty")
		return
	}

	if err := s.store.RenameChat(r.Context(), r.PathValue("id"), req.Name); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleAppendMessages(w http.ResponseWriter, r *http.Request) {
	var req appendMessagesRequest
	if !s.readJSON(w, r, &req) {
		return
	}
	if len(req.Messages) == 0 {
		s.writeError(w, http.StatusBadRequest, storage.ErrEmptyAppend.Error())
		return
	}

	// Clients send a fresh key per turn; a replayed request with the
	// same key appends nothing. Requests without a key get a one-off key
	// and are applied unconditionally.
	turnKey := r.Header.Get("Idempotency-Key")
	if turnKey == "" {
		turnKey = uuid.NewString()
	}

	chat, err := s.store.AppendMessages(r.Context(), r.PathValue("id"), req.Messages, req.NewChatName, turnKey)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.images == nil {
		s.writeError(w, http.StatusNotImplemented, "image uploads are disabled")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing or oversized file field")
		return
	}
	defer file.Close()

	path, err := s.images.UploadImage(r.Context(), header.Filename, file)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The store returns the on-disk path; clients address images by URL.
	s.writeJSON(w, http.StatusCreated, uploadResponse{ImageURL: "/images/" + filepath.Base(path)})
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	if s.imageDir == "" {
		s.writeError(w, http.StatusNotImplemented, "image uploads are disabled")
		return
	}

	name := r.PathValue("name")
	if name != filepath.Base(name) || strings.Contains(name, "..") {
		s.writeError(w, http.StatusBadRequest, "invalid image name")
		return
	}
	http.ServeFile(w, r, filepath.Join(s.imageDir, name))
}

// =============================================================================
// JSON HELPERS
// =============================================================================

// readJSON decodes a capped JSON request body into dst, answering 400 on
// failure. Returns false when the handler should stop.
func (s *Server) readJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Printf("RESPONSE_WRITE_FAILED | error=%v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps store errors onto HTTP status codes.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrChatNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, storage.ErrEmptyAppend):
		s.writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}
