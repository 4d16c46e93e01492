// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats and messages.
package model

// =============================================================================
// PERSONA TYPE
// =============================================================================

// Persona is a reusable system prompt the assistant adopts for a session.
// The prompt is sent to the model as a system message; it is never shown
// in the transcript and never persisted with the chat.
type Persona struct {
	Key    string `json:"key"`
	Label  string `json:"label"`
	Prompt string `json:"prompt"`
}

// BuiltinPersonas are the stock personas available without configuration.
var BuiltinPersonas = []Persona{
	{
		Key:    "teacher",
		Label:  "Teacher",
		Prompt: "You are a knowledgeable and patient educator who explains concepts clearly",
	},
	{
		Key:    "engineer",
		Label:  "Software Engineer",
		Prompt: "You are a technical expert who can help with coding and software architecture",
	},
	{
		Key:    "scientist",
		Label:  "Scientist",
		Prompt: "You are a researcher who approaches problems with scientific methodology",
	},
	{
		Key:    "writer",
		Label:  "Writer",
		Prompt: "You are a creative writer who can help with content and storytelling",
	},
	{
		Key:    "businessAnalyst",
		Label:  "Business Analyst",
		Prompt: "You are a professional who understands business processes and requirements",
	},
	{
		Key:    "designer",
		Label:  "UI/UX Designer",
		Prompt: "You are a creative professional focused on user experience and interface design",
	},
}

// FindPersona looks up a persona by key in the given list.
func FindPersona(personas []Persona, key string) (Persona, bool) {
	for _, p := range personas {
		if p.Key == key {
			return p, true
		}
	}
	return Persona{}, false
}

// =============================================================================
// STARTER PROMPTS
// =============================================================================

// StarterPrompt is a canned prompt offered when the transcript is empty.
type StarterPrompt struct {
	Title  string
	Prompt string
}

// StarterPrompts are shown on an empty chat so a first message is one
// keystroke away.
var StarterPrompts = []StarterPrompt{
	{Title: "Code Explanation", Prompt: "Can you explain this code and how it works?"},
	{Title: "Bug Finding", Prompt: "Can you help me find bugs in this code?"},
	{Title: "Code Review", Prompt: "Please review this code and suggest improvements."},
	{Title: "Documentation", Prompt: "Help me write documentation for this code."},
	{Title: "Optimization", Prompt: "How can I optimize this code for better performance?"},
	{Title: "Testing", Prompt: "Help me write tests for this code."},
}
