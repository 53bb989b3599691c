// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation holds the ordered message buffer sent to the model.
//
// A Context keeps messages in insertion order under a token budget. Token
// cost is a cheap length heuristic (runes / 4), not a real tokenizer; the
// budget is approximate by design of the estimate, and exact parity with any
// model's tokenizer is not attempted.
//
// When an append would exceed the budget, the oldest non-system messages are
// evicted first. System messages are kept while any other message remains.
// If the incoming message still cannot fit, AddMessage fails with
// ErrContextLimit and the buffer is left exactly as it was.
//
// # Usage
//
//	ctx := conversation.New(8192)
//	_ = ctx.AddMessage(conversation.RoleSystem, "You review manuscripts.")
//	if err := ctx.AddMessage(conversation.RoleUser, prompt); err != nil {
//	    if errors.Is(err, conversation.ErrContextLimit) { ... }
//	}
//	msgs := ctx.Messages()
package conversation
