// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package diff computes line diffs between two generated texts, typically a
// rejected review attempt and the retry that followed it.
//
// # Usage
//
//	r := diff.Compute("attempt 1", "attempt 2", first.Text, second.Text)
//	fmt.Println(r.Summary()) // "+4 -2"
//	fmt.Print(r.Unified())
package diff
