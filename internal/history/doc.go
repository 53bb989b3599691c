// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package history persists review attempts and results in SQLite.
//
// Store implements review.Recorder. The database uses the pure Go
// modernc.org/sqlite driver, so no cgo toolchain is needed.
//
// # Tables
//
//   - tasks: one row per review task with its final state
//   - attempts: one row per generation attempt with its metrics
//   - issues: validation issues per attempt
package history
