// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for communicating with the
// Ollama API.
package ollama

// ChooseModel picks the model for a new session: the saved preference if
// it is still installed, otherwise the first installed model, otherwise
// the fallback.
func ChooseModel(models []ModelInfo, saved, fallback string) string {
	if saved != "" {
		for _, m := range models {
			if m.Name == saved {
				return saved
			}
		}
	}
	if len(models) > 0 {
		return models[0].Name
	}
	return fallback
}
