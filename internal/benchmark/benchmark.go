// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package benchmark

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/validate"
)

// =============================================================================
// BENCHMARK RUNNER
// =============================================================================

// Runner executes benchmarks on models.
// Note: Runner is not thread-safe and should not be used concurrently
// from multiple goroutines.
type Runner struct {
	api       llm.API
	base      llm.Config
	validator *validate.Validator
	log       logrus.FieldLogger
}

// NewRunner creates a runner. base supplies generation options and
// timeouts; its model list is replaced per run. A nil validator uses the
// default profile.
func NewRunner(api llm.API, base llm.Config, v *validate.Validator, log logrus.FieldLogger) *Runner {
	if v == nil {
		v = validate.New(nil)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{api: api, base: base, validator: v, log: log}
}

// Run executes every case on one model. Case failures are recorded in the
// result; the error is non-nil only when ctx ends the run.
func (r *Runner) Run(ctx context.Context, model string, cases []Case) (*Result, error) {
	result := &Result{
		Model:     model,
		StartTime: time.Now(),
		Cases:     make([]CaseResult, 0, len(cases)),
	}

	cfg := r.base
	cfg.DefaultModel = model
	cfg.FallbackModels = nil
	client := llm.New(r.api, cfg, llm.WithLogger(r.log))

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			result.finish()
			return result, err
		}
		result.Cases = append(result.Cases, r.runCase(ctx, client, model, c))
	}

	result.finish()
	return result, nil
}

// runCase streams one case on a fresh conversation.
func (r *Runner) runCase(ctx context.Context, client *llm.Client, model string, c Case) CaseResult {
	cr := CaseResult{Name: c.Name, Model: model, StartTime: time.Now()}
	log := r.log.WithFields(logrus.Fields{"model": model, "case": c.Name})

	if c.Prompt == "" {
		cr.Status = StatusFailed
		cr.Error = "empty prompt"
		return cr
	}

	stream, err := client.StreamQuery(ctx, c.Prompt, llm.WithResetContext())
	if err != nil {
		cr.Status = StatusFailed
		cr.Error = err.Error()
		log.WithError(err).Warn("Benchmark case failed to start")
		return cr
	}
	text, err := stream.Collect()
	cr.Duration = time.Since(cr.StartTime)

	state := stream.State()
	cr.TTFT = state.FirstTokenLatency()
	cr.CompletionTokens = stream.Usage().CompletionTokens
	if cr.CompletionTokens == 0 {
		cr.CompletionTokens = state.TokenCount
	}
	if err != nil {
		cr.Status = StatusFailed
		cr.Error = err.Error()
		log.WithError(err).Warn("Benchmark case failed mid-stream")
		return cr
	}

	if cr.CompletionTokens > 0 && cr.Duration > 0 {
		cr.TokensPerSec = float64(cr.CompletionTokens) / cr.Duration.Seconds()
	}

	report := r.validator.Validate(text)
	cr.Passed = report.Passed()
	cr.Issues = report.Score()
	cr.Categories = report.Categories()
	cr.Status = StatusCompleted

	log.WithFields(logrus.Fields{
		"ttft":   FormatDuration(cr.TTFT),
		"tps":    fmt.Sprintf("%.1f", cr.TokensPerSec),
		"passed": cr.Passed,
	}).Debug("Benchmark case done")
	return cr
}

// ErrAllModelsFailed is returned by RunComparison when no model completed a case.
var ErrAllModelsFailed = errors.New("benchmark: all models failed")

// RunComparison benchmarks each model in order. It returns the comparison
// even when individual models fail, and ErrAllModelsFailed only if none
// completed any case.
func (r *Runner) RunComparison(ctx context.Context, models []string, cases []Case) (*Comparison, error) {
	comparison := &Comparison{
		Models:    append([]string(nil), models...),
		Results:   make(map[string]*Result, len(models)),
		StartTime: time.Now(),
	}

	ok := 0
	for _, model := range models {
		result, err := r.Run(ctx, model, cases)
		comparison.Results[model] = result
		if err != nil {
			comparison.finish()
			return comparison, err
		}
		if result.Completed > 0 {
			ok++
		}
	}

	comparison.finish()
	if ok == 0 {
		return comparison, ErrAllModelsFailed
	}
	return comparison, nil
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// FormatDuration formats a duration for display.
func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "N/A"
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// FormatTokensPerSec formats tokens per second for display.
func FormatTokensPerSec(tps float64) string {
	if tps == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f t/s", tps)
}
