// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// text returns content whose estimate is exactly n tokens.
func text(n int) string {
	return strings.Repeat("abcd", n)
}

func sumTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += m.Tokens()
	}
	return total
}

// =============================================================================
// ESTIMATION
// =============================================================================

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 0, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcdefghi"))
	// Runes, not bytes
	assert.Equal(t, 1, EstimateTokens("日本語テ"))
}

// =============================================================================
// ADD / PRUNE
// =============================================================================

func TestAddMessage_WithinBudget(t *testing.T) {
	c := New(100)
	require.NoError(t, c.AddMessage(RoleUser, text(10)))
	require.NoError(t, c.AddMessage(RoleAssistant, text(20)))

	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 30, c.EstimatedTokens())
	assert.Equal(t, 0, c.Pruned())
}

func TestAddMessage_PrunesOldestFirst(t *testing.T) {
	c := New(30)
	require.NoError(t, c.AddMessage(RoleUser, "first "+text(9)))
	require.NoError(t, c.AddMessage(RoleAssistant, "second "+text(9)))
	require.NoError(t, c.AddMessage(RoleUser, "third "+text(9)))

	require.NoError(t, c.AddMessage(RoleAssistant, "fourth "+text(9)))

	msgs := c.Messages()
	require.Len(t, msgs, 3)
	assert.True(t, strings.HasPrefix(msgs[0].Content, "second"))
	assert.True(t, strings.HasPrefix(msgs[2].Content, "fourth"))
	assert.Equal(t, 1, c.Pruned())
}

func TestAddMessage_PreservesSystemPrompt(t *testing.T) {
	c := New(40)
	require.NoError(t, c.AddMessage(RoleSystem, text(10)))

	for i := 0; i < 20; i++ {
		require.NoError(t, c.AddMessage(RoleUser, text(10)))
		msgs := c.Messages()
		require.NotEmpty(t, msgs)
		assert.Equal(t, RoleSystem, msgs[0].Role, "system prompt evicted at step %d", i)
		assert.LessOrEqual(t, c.EstimatedTokens(), c.MaxTokens())
	}
}

func TestAddMessage_SingleMessageOverBudget(t *testing.T) {
	c := New(10)
	require.NoError(t, c.AddMessage(RoleUser, text(5)))
	before := c.Messages()

	err := c.AddMessage(RoleUser, text(11))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContextLimit))

	var limitErr *LimitError
	require.True(t, errors.As(err, &limitErr))
	assert.Equal(t, 11, limitErr.Needed)

	assert.Equal(t, before, c.Messages(), "buffer must be unchanged")
	assert.Equal(t, 5, c.EstimatedTokens())
}

func TestAddMessage_SystemPromptLeavesNoRoom(t *testing.T) {
	c := New(20)
	require.NoError(t, c.AddMessage(RoleSystem, text(15)))
	require.NoError(t, c.AddMessage(RoleUser, text(4)))
	before := c.Messages()

	// Fits alone, but not beside the system prompt even with every user message gone
	err := c.AddMessage(RoleUser, text(8))
	require.ErrorIs(t, err, ErrContextLimit)

	assert.Equal(t, before, c.Messages(), "failed prune must not be committed")
	assert.Equal(t, 19, c.EstimatedTokens())
}

func TestAddMessage_UnknownRole(t *testing.T) {
	c := New(10)
	err := c.AddMessage(Role("tool"), "x")
	require.Error(t, err)
	assert.Equal(t, 0, c.Len())
}

// TestAddMessage_BudgetInvariant drives random sequences and checks the
// counter and budget after every call.
func TestAddMessage_BudgetInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	roles := []Role{RoleUser, RoleAssistant, RoleUser, RoleSystem}

	for run := 0; run < 50; run++ {
		c := New(64)
		for step := 0; step < 40; step++ {
			role := roles[rng.Intn(len(roles))]
			before := c.Messages()
			n := rng.Intn(80)

			err := c.AddMessage(role, text(n))

			msgs := c.Messages()
			assert.Equal(t, sumTokens(msgs), c.EstimatedTokens())
			if err != nil {
				require.ErrorIs(t, err, ErrContextLimit)
				assert.Equal(t, before, msgs)
				continue
			}
			assert.LessOrEqual(t, c.EstimatedTokens(), c.MaxTokens())
		}
	}
}

// =============================================================================
// READ / CLEAR / SNAPSHOT
// =============================================================================

func TestMessages_ReturnsCopy(t *testing.T) {
	c := New(100)
	require.NoError(t, c.AddMessageWithMetadata(RoleUser, "hello", map[string]string{"stage": "1"}))

	msgs := c.Messages()
	msgs[0].Content = "mutated"
	msgs[0].Metadata["stage"] = "9"

	again := c.Messages()
	assert.Equal(t, "hello", again[0].Content)
	assert.Equal(t, "1", again[0].Metadata["stage"])
}

func TestClear(t *testing.T) {
	c := New(100)
	require.NoError(t, c.AddMessage(RoleSystem, text(3)))
	require.NoError(t, c.AddMessage(RoleUser, text(3)))

	c.Clear()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.EstimatedTokens())
	assert.Empty(t, c.Messages())
}

func TestSnapshotRestore(t *testing.T) {
	c := New(100)
	require.NoError(t, c.AddMessage(RoleUser, text(5)))
	snap := c.Snapshot()

	require.NoError(t, c.AddMessage(RoleUser, text(5)))
	require.NoError(t, c.AddMessage(RoleAssistant, text(5)))
	assert.Equal(t, 3, c.Len())

	c.Restore(snap)
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 5, c.EstimatedTokens())
	assert.Equal(t, 1, snap.Len())
}

func TestNew_DefaultBudget(t *testing.T) {
	assert.Equal(t, DefaultMaxTokens, New(0).MaxTokens())
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("assistant")
	require.NoError(t, err)
	assert.Equal(t, RoleAssistant, r)

	_, err = ParseRole("narrator")
	assert.Error(t, err)
}
