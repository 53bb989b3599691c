// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads reviewgen settings from TOML.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (REVIEWGEN_*)
//   - --config path, or ~/.reviewgen/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client := llm.New(ollama.NewClientWithConfig(cfg.OllamaConfig()), cfg.LLMConfig())
package config
