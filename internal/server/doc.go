// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the review orchestrator over HTTP.
//
// Endpoints:
//   - POST /v1/review         - Run one review task (JSON or NDJSON stream)
//   - GET  /v1/models         - Configured and installed models
//   - GET  /v1/history        - Recent tasks
//   - GET  /v1/history/{id}   - One task, exported as json, markdown or html
//   - GET  /health            - Liveness and Ollama reachability
//   - GET  /stats             - Counters since start
//
// Reviews run one at a time against a shared client; a request waits for
// the running review to finish or for its own context to end.
//
// Usage:
//
//	srv := server.New(client, validator, server.Config{Addr: "127.0.0.1:8787"},
//	    server.WithHistory(store), server.WithLogger(log))
//	err := srv.ListenAndServe(ctx)
package server
