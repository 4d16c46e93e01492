// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage persists chats and their messages.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// =============================================================================
// IMAGE STORE
// =============================================================================

// ImageStore saves image attachments and returns a URL (or path) the
// transcript can reference.
type ImageStore interface {
	UploadImage(ctx context.Context, filename string, r io.Reader) (string, error)
}

// LocalImageStore keeps uploaded images in a directory on disk, used in
// local mode where no backend serves them.
type LocalImageStore struct {
	dir string
}

// NewLocalImageStore creates the image directory if needed.
func NewLocalImageStore(dir string) (*LocalImageStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image directory: %w", err)
	}
	return &LocalImageStore{dir: dir}, nil
}

// UploadImage copies the image into the store under a unique name and
// returns its absolute path.
func (s *LocalImageStore) UploadImage(ctx context.Context, filename string, r io.Reader) (string, error) {
	name := uniqueImageName(filename)
	dest := filepath.Join(s.dir, name)

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(dest)
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to close image file: %w", err)
	}

	return dest, nil
}

// uniqueImageName prefixes the sanitized original name with a fresh id so
// repeated uploads of the same file never collide.
func uniqueImageName(filename string) string {
	base := filepath.Base(filename)
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	return uuid.NewString()[:8] + "-" + base
}
