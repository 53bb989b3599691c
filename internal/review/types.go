// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import (
	"time"

	"github.com/jeranaias/reviewgen/internal/validate"
)

// State is the task lifecycle state.
type State string

const (
	StatePending   State = "pending"
	StateAttempted State = "attempted"
	StateAccepted  State = "accepted"
	StateRetrying  State = "retrying"
	StateDegraded  State = "degraded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateAccepted || s == StateDegraded || s == StateFailed
}

// Task is one unit of review work. Prompt is already rendered.
type Task struct {
	ID     string // generated when empty
	Name   string
	Prompt string

	// Model overrides the client default for this task.
	Model string

	// ResetContext clears the conversation before the first attempt.
	ResetContext bool
}

// AttemptMetrics describes the cost of one attempt.
type AttemptMetrics struct {
	TokensUsed     int
	InputChars     int
	OutputChars    int
	ElapsedSeconds float64
	AttemptNumber  int
}

// Attempt is one generation plus its verdict.
type Attempt struct {
	Number  int
	Prompt  string
	Text    string
	Model   string
	Metrics AttemptMetrics
	Report  validate.Report
	Started time.Time
}

// Passed reports whether the attempt cleared validation.
func (a Attempt) Passed() bool {
	return a.Report.Passed()
}

// Failed reports whether the attempt failed for cat.
func (a Attempt) Failed(cat validate.Category) bool {
	return a.Report.Has(cat)
}

// Result is the outcome of a task.
type Result struct {
	TaskID   string
	TaskName string
	State    State

	// Text is the returned output. For a degraded result chosen despite
	// repetition it is the deduplicated salvage of RawText.
	Text    string
	RawText string

	Degraded bool
	Attempts []Attempt

	// Best indexes the returned attempt in Attempts, -1 when none.
	Best int

	// Err is set when State is failed.
	Err error
}

// BestAttempt returns the returned attempt, or nil.
func (r *Result) BestAttempt() *Attempt {
	if r.Best < 0 || r.Best >= len(r.Attempts) {
		return nil
	}
	return &r.Attempts[r.Best]
}

// Metrics returns the per-attempt metrics in order.
func (r *Result) Metrics() []AttemptMetrics {
	out := make([]AttemptMetrics, len(r.Attempts))
	for i, a := range r.Attempts {
		out[i] = a.Metrics
	}
	return out
}

// TotalTokens sums tokens across attempts.
func (r *Result) TotalTokens() int {
	total := 0
	for _, a := range r.Attempts {
		total += a.Metrics.TokensUsed
	}
	return total
}
