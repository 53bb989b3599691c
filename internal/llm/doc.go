// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package llm is the resilient completion client used by the review pipeline.
//
// A Client owns one conversation.Context and issues chat requests against a
// local Ollama endpoint. Every call tries an ordered list of models (the
// requested or default model first, then the configured fallbacks) and moves
// to the next model only on connection-class failures. Anything else, such as
// a malformed server reply, is returned immediately.
//
// # Operations
//
//   - Query: one synchronous completion
//   - StreamQuery: a lazily consumed Stream watched by a heartbeat.Monitor
//   - QueryStructured / QueryInto: JSON-only completions with recovery and
//     optional schema validation
//   - AvailableModels / CheckConnection: advisory introspection
//
// The conversation only ever stores complete exchanges. A failed call rolls
// back the user message it appended.
package llm
