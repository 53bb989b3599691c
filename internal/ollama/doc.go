// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the local model server.
//
// It speaks only what reviewgen needs: POST /api/chat (single JSON reply or
// newline-delimited JSON fragments ending with done:true), GET /api/tags for
// the installed model list, and GET / as a liveness probe.
//
// # Key Types
//
//   - Client: HTTP client for the chat and model-listing endpoints
//   - ChatRequest / ChatResponse: wire bodies for /api/chat
//   - StreamReader: pulls NDJSON fragments one at a time from an open stream
//   - ClientError: typed failure; see IsConnectionClass for fallback decisions
//
// # Usage
//
//	client := ollama.NewClient()
//	resp, err := client.Chat(ctx, ollama.ChatRequest{
//	    Model:    "qwen2.5:14b",
//	    Messages: []ollama.Message{ollama.NewUserMessage("Hello")},
//	})
//
// For streaming responses:
//
//	reader, err := client.ChatStream(ctx, request)
//	defer reader.Close()
//	for {
//	    chunk, err := reader.Next()
//	    if err == io.EOF {
//	        break
//	    }
//	    fmt.Print(chunk.Content)
//	}
package ollama
