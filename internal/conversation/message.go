// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"fmt"
	"unicode/utf8"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ParseRole converts a wire role string to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("conversation: unknown role %q", s)
	}
	return r, nil
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message is a single entry in the conversation buffer.
// Messages are values; the Context hands out copies so callers cannot
// mutate what it holds.
type Message struct {
	Role     Role              `json:"role"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Tokens returns the estimated token cost of the message.
func (m Message) Tokens() int {
	return EstimateTokens(m.Content)
}

// clone returns a deep copy so metadata maps are never shared.
func (m Message) clone() Message {
	if m.Metadata == nil {
		return m
	}
	md := make(map[string]string, len(m.Metadata))
	for k, v := range m.Metadata {
		md[k] = v
	}
	m.Metadata = md
	return m
}

// EstimateTokens returns the heuristic token cost of content:
// the rune count divided by four, rounded down.
func EstimateTokens(content string) int {
	return utf8.RuneCountInString(content) / 4
}
