// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the reviewgen command line.
//
// # Commands
//
//	review   Run prompt files through the quality-gated review loop
//	ask      Send a single prompt (optionally streamed or as JSON)
//	watch    Review prompt files as they appear in an inbox directory
//	serve    Serve the review loop over HTTP
//	models   List models installed on the Ollama server
//	bench    Compare models on review prompts
//	ping     Check that the Ollama server is reachable
//	history  Inspect, export and prune the attempt history database
//	config   Show, read and write configuration values
//	schema   Print JSON Schemas for review output and validation profiles
//	version  Print version information
//
// # Global Flags
//
//	--config PATH     Config file (default ~/.reviewgen/config.toml)
//	--log-level LVL   Override logging.level
//	--no-color        Disable colored output
//
// Generated text goes to stdout (or --output-dir); logs go to stderr.
package cli
