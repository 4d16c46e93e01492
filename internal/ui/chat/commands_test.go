// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import "testing"

func TestParseCommand(t *testing.T) {
	tests := []struct {
		input    string
		wantOK   bool
		wantName string
		wantArgs string
	}{
		{"/new", true, "new", ""},
		{"/model mistral:7b", true, "model", "mistral:7b"},
		{"/rename weekend project ideas", true, "rename", "weekend project ideas"},
		{"  /help  ", true, "help", ""},
		{"/MODEL llama2", true, "model", "llama2"},
		{"/load  3 ", true, "load", "3"},
		{"hello there", false, "", ""},
		{"what is 1/2 + 1/2?", false, "", ""},
		{"", false, "", ""},
	}

	for _, tt := range tests {
		c, ok := parseCommand(tt.input)
		if ok != tt.wantOK {
			t.Errorf("parseCommand(%q) ok = %v, want %v", tt.input, ok, tt.wantOK)
			continue
		}
		if !ok {
			continue
		}
		if c.name != tt.wantName || c.args != tt.wantArgs {
			t.Errorf("parseCommand(%q) = {%q, %q}, want {%q, %q}",
				tt.input, c.name, c.args, tt.wantName, tt.wantArgs)
		}
	}
}

func TestStarterPromptBounds(t *testing.T) {
	if _, ok := starterPrompt(0); ok {
		t.Error("starterPrompt(0) should be out of range")
	}
	if _, ok := starterPrompt(1); !ok {
		t.Error("starterPrompt(1) should exist")
	}
	if _, ok := starterPrompt(100); ok {
		t.Error("starterPrompt(100) should be out of range")
	}
}
