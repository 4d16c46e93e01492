// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package components provides UI components for the ollamachat TUI.
package components

import (
	"time"

	"ollamachat/internal/ui/styles"
)

// =============================================================================
// STATUS TOAST
// =============================================================================

// ToastLevel classifies a toast.
type ToastLevel int

const (
	ToastInfo ToastLevel = iota
	ToastSuccess
	ToastError
)

// Toast is a short-lived status line shown above the input.
type Toast struct {
	theme   *styles.Theme
	message string
	level   ToastLevel
	shownAt time.Time
	ttl     time.Duration
}

// NewToast creates an inactive toast.
func NewToast(theme *styles.Theme) *Toast {
	return &Toast{theme: theme, ttl: 5 * time.Second}
}

// Show displays a message until the TTL passes or it is replaced.
func (t *Toast) Show(level ToastLevel, message string) {
	t.level = level
	t.message = message
	t.shownAt = time.Now()
}

// Clear hides the toast.
func (t *Toast) Clear() {
	t.message = ""
}

// View renders the toast, or empty when expired.
func (t *Toast) View() string {
	if t.message == "" || time.Since(t.shownAt) > t.ttl {
		return ""
	}
	switch t.level {
	case ToastError:
		return styles.RenderError(t.message)
	case ToastSuccess:
		return styles.RenderSuccess(t.message)
	default:
		return t.theme.Toast.Render(t.message)
	}
}
