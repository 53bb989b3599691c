// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders recorded review tasks as Markdown, JSON or HTML.
//
// # Formats
//
//   - markdown: YAML front matter, the returned review text, and an attempt log
//   - json: the full task and attempt records
//   - html: a standalone page with the review and attempt log
//
// # Usage
//
//	exp, err := export.ForFormat("markdown", nil)
//	path, err := export.ExportToFile(report, exp, dir)
package export
