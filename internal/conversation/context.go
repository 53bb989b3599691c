// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"fmt"
	"sync"
)

// DefaultMaxTokens is the budget used when New is given a non-positive value.
const DefaultMaxTokens = 8192

// ErrContextLimit is returned when a message cannot fit in the budget even
// after every evictable message has been removed.
var ErrContextLimit = errors.New("conversation: context limit exceeded")

// LimitError carries the numbers behind a context-limit failure.
type LimitError struct {
	Needed    int // estimated tokens of the incoming message
	Available int // budget left after maximal pruning
	MaxTokens int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s: message needs %d tokens, %d available of %d",
		ErrContextLimit.Error(), e.Needed, e.Available, e.MaxTokens)
}

func (e *LimitError) Unwrap() error {
	return ErrContextLimit
}

// =============================================================================
// CONTEXT
// =============================================================================

// Context is an ordered, token-budgeted message buffer.
//
// Invariant: after every mutation, estimated equals the sum of the retained
// messages' estimates and estimated <= maxTokens.
type Context struct {
	mu        sync.Mutex
	messages  []Message
	maxTokens int
	estimated int
	pruned    int // messages evicted over the context's lifetime
}

// New creates an empty Context with the given token budget.
func New(maxTokens int) *Context {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Context{maxTokens: maxTokens}
}

// AddMessage appends a message, pruning older messages first if needed.
func (c *Context) AddMessage(role Role, content string) error {
	return c.AddMessageWithMetadata(role, content, nil)
}

// AddMessageWithMetadata appends a message carrying metadata.
// The metadata map is copied.
func (c *Context) AddMessageWithMetadata(role Role, content string, metadata map[string]string) error {
	if !role.Valid() {
		return fmt.Errorf("conversation: unknown role %q", role)
	}

	msg := Message{Role: role, Content: content, Metadata: metadata}.clone()
	cost := msg.Tokens()

	c.mu.Lock()
	defer c.mu.Unlock()

	if cost > c.maxTokens {
		return &LimitError{Needed: cost, Available: c.maxTokens, MaxTokens: c.maxTokens}
	}

	if c.estimated+cost > c.maxTokens {
		if err := c.prune(cost); err != nil {
			return err
		}
	}

	c.messages = append(c.messages, msg)
	c.estimated += cost
	return nil
}

// prune evicts the oldest non-system messages until incoming fits.
// The eviction plan is computed first and only committed when it succeeds,
// so a failure leaves the buffer untouched. Caller holds c.mu.
func (c *Context) prune(incoming int) error {
	evict := make([]bool, len(c.messages))
	total := c.estimated
	evicted := 0

	for i := 0; i < len(c.messages) && total+incoming > c.maxTokens; i++ {
		// System prompts rotate past the eviction point; the next message goes instead
		if c.messages[i].Role == RoleSystem {
			continue
		}
		evict[i] = true
		total -= c.messages[i].Tokens()
		evicted++
	}

	if total+incoming > c.maxTokens {
		return &LimitError{Needed: incoming, Available: c.maxTokens - total, MaxTokens: c.maxTokens}
	}

	kept := make([]Message, 0, len(c.messages)-evicted)
	for i, m := range c.messages {
		if !evict[i] {
			kept = append(kept, m)
		}
	}
	c.messages = kept
	c.estimated = total
	c.pruned += evicted
	return nil
}

// Messages returns a copy of the buffer in insertion order.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	for i, m := range c.messages {
		out[i] = m.clone()
	}
	return out
}

// Clear empties the buffer and resets the token counter.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.estimated = 0
}

// Len returns the number of retained messages.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// EstimatedTokens returns the running token estimate.
func (c *Context) EstimatedTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimated
}

// MaxTokens returns the token budget.
func (c *Context) MaxTokens() int {
	return c.maxTokens
}

// Pruned returns how many messages have been evicted so far.
func (c *Context) Pruned() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pruned
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// Snapshot is an opaque copy of a Context's buffer.
type Snapshot struct {
	messages  []Message
	estimated int
}

// Len returns the number of messages captured.
func (s Snapshot) Len() int {
	return len(s.messages)
}

// Snapshot captures the current buffer so a rejected exchange can be undone.
func (c *Context) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := make([]Message, len(c.messages))
	for i, m := range c.messages {
		msgs[i] = m.clone()
	}
	return Snapshot{messages: msgs, estimated: c.estimated}
}

// Restore replaces the buffer with a previously captured snapshot.
func (c *Context) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.messages = make([]Message, len(s.messages))
	for i, m := range s.messages {
		c.messages[i] = m.clone()
	}
	c.estimated = s.estimated
}
