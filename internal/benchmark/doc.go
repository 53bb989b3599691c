// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package benchmark compares models on review prompts.
//
// Each case is streamed once per model with fallback disabled, so the
// numbers belong to the model named. A case records time to first token,
// generation speed and the validation verdict for the reply.
//
// # Usage
//
//	runner := benchmark.NewRunner(api, cfg.LLMConfig(), validator, log)
//	cmp, err := runner.RunComparison(ctx, []string{"qwen2.5:14b", "llama3:8b"}, benchmark.DefaultCases())
//	best, _ := cmp.BestModel()
package benchmark
