// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small string and file helpers shared by reviewgen.
//
// # Key Functions
//
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - Snippet: single-line, bounded excerpt of model output for error messages
//   - TruncateWidth, PadRight: display-width aware helpers for CLI tables
//   - AtomicWriteFile: crash-safe file writing with fsync
//
// # Usage
//
//	err := fmt.Errorf("bad response: %q", util.Snippet(body, 200))
//	err := util.AtomicWriteFile(path, []byte(result.Text), 0644)
package util
