// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import (
	"context"
	"errors"
	"io"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/jeranaias/reviewgen/internal/conversation"
	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/validate"
)

// DefaultMaxAttempts is the attempt budget when none is configured.
const DefaultMaxAttempts = 3

// Client is the generation surface the orchestrator drives.
// *llm.Client implements it.
type Client interface {
	Query(ctx context.Context, prompt string, opts ...llm.QueryOption) (*llm.Response, error)
	StreamQuery(ctx context.Context, prompt string, opts ...llm.QueryOption) (*llm.Stream, error)
	Context() *conversation.Context
}

// Recorder receives attempts and results as they happen.
type Recorder interface {
	RecordAttempt(ctx context.Context, task Task, a Attempt) error
	RecordResult(ctx context.Context, r *Result) error
}

// Config holds orchestrator settings.
type Config struct {
	// MaxAttempts is the total number of generations per task.
	MaxAttempts int

	// Stream uses StreamQuery instead of Query.
	Stream bool

	// OnFragment receives streamed text as it arrives.
	OnFragment func(task Task, attempt int, fragment string)
}

// Orchestrator runs review tasks sequentially.
type Orchestrator struct {
	client    Client
	validator *validate.Validator
	cfg       Config
	recorder  Recorder
	log       logrus.FieldLogger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder sets an attempt sink.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// New creates an orchestrator. A nil validator uses the default profile.
func New(client Client, validator *validate.Validator, cfg Config, opts ...Option) *Orchestrator {
	if validator == nil {
		validator = validate.New(nil)
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	o := &Orchestrator{client: client, validator: validator, cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.log == nil {
		o.log = logrus.StandardLogger()
	}
	return o
}

// Run takes task to a terminal state. The error is non-nil only for a
// failed task, in which case the result still carries the attempts made.
func (o *Orchestrator) Run(ctx context.Context, task Task) (*Result, error) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	log := o.log.WithFields(logrus.Fields{"task_id": task.ID, "task": task.Name})

	result := &Result{TaskID: task.ID, TaskName: task.Name, State: StatePending, Best: -1}
	conv := o.client.Context()
	if task.ResetContext {
		conv.Clear()
	}

	prompt := task.Prompt
	for n := 1; n <= o.cfg.MaxAttempts; n++ {
		snap := conv.Snapshot()

		attempt, err := o.attempt(ctx, task, n, prompt)
		if err != nil {
			result.State = StateFailed
			result.Err = err
			log.WithError(err).WithField("attempt", n).Error("Review task failed")
			o.recordResult(ctx, log, result)
			return result, err
		}
		result.Attempts = append(result.Attempts, attempt)
		o.transition(log, result, StateAttempted)
		o.recordAttempt(ctx, log, task, attempt)

		entry := log.WithFields(logrus.Fields{
			"attempt": n,
			"model":   attempt.Model,
			"issues":  attempt.Report.Score(),
			"tokens":  attempt.Metrics.TokensUsed,
		})

		if attempt.Passed() {
			result.Best = len(result.Attempts) - 1
			result.Text = attempt.Text
			result.RawText = attempt.Text
			o.transition(log, result, StateAccepted)
			entry.Info("Review accepted")
			o.recordResult(ctx, log, result)
			return result, nil
		}

		entry.WithField("categories", attempt.Report.Categories()).Warn("Review failed validation")

		if n < o.cfg.MaxAttempts {
			// the rejected exchange must not steer the retry
			conv.Restore(snap)
			prompt = Reinforce(task.Prompt, attempt.Report, o.validator.Profile)
			o.transition(log, result, StateRetrying)
		}
	}

	result.Best = pickBest(result.Attempts)
	best := result.Attempts[result.Best]
	result.RawText = best.Text
	result.Text = best.Text
	if best.Failed(validate.CategoryRepetition) {
		result.Text = validate.DeduplicateSections(best.Text)
	}
	result.Degraded = true
	o.transition(log, result, StateDegraded)

	log.WithFields(logrus.Fields{
		"attempts":    len(result.Attempts),
		"best":        best.Number,
		"best_issues": best.Report.Score(),
	}).Warn("Review degraded after exhausting attempts")
	o.recordResult(ctx, log, result)
	return result, nil
}

// RunAll runs tasks in order. It stops early only when ctx is done; a
// failed task is reported in its result and the rest still run.
func (o *Orchestrator) RunAll(ctx context.Context, tasks []Task) []*Result {
	results := make([]*Result, 0, len(tasks))
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		r, _ := o.Run(ctx, task)
		results = append(results, r)
	}
	return results
}

func (o *Orchestrator) attempt(ctx context.Context, task Task, n int, prompt string) (Attempt, error) {
	var opts []llm.QueryOption
	if task.Model != "" {
		opts = append(opts, llm.WithModel(task.Model))
	}

	start := time.Now()
	text, model, usage, err := o.generate(ctx, task, n, prompt, opts)
	if err != nil {
		return Attempt{}, err
	}
	elapsed := time.Since(start)

	tokens := usage.Total()
	if tokens == 0 {
		tokens = conversation.EstimateTokens(prompt) + conversation.EstimateTokens(text)
	}

	return Attempt{
		Number:  n,
		Prompt:  prompt,
		Text:    text,
		Model:   model,
		Started: start,
		Report:  o.validator.Validate(text),
		Metrics: AttemptMetrics{
			TokensUsed:     tokens,
			InputChars:     utf8.RuneCountInString(prompt),
			OutputChars:    utf8.RuneCountInString(text),
			ElapsedSeconds: elapsed.Seconds(),
			AttemptNumber:  n,
		},
	}, nil
}

func (o *Orchestrator) generate(ctx context.Context, task Task, n int, prompt string, opts []llm.QueryOption) (string, string, llm.Usage, error) {
	if !o.cfg.Stream {
		resp, err := o.client.Query(ctx, prompt, opts...)
		if err != nil {
			return "", "", llm.Usage{}, err
		}
		return resp.Text, resp.Model, resp.Usage, nil
	}

	stream, err := o.client.StreamQuery(ctx, prompt, opts...)
	if err != nil {
		return "", "", llm.Usage{}, err
	}
	defer stream.Close()

	for {
		fragment, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return stream.Text(), stream.Model(), stream.Usage(), nil
			}
			return "", "", llm.Usage{}, err
		}
		if o.cfg.OnFragment != nil {
			o.cfg.OnFragment(task, n, fragment)
		}
	}
}

// pickBest returns the index of the attempt with the fewest issues; ties go
// to the earliest.
func pickBest(attempts []Attempt) int {
	best := 0
	for i := 1; i < len(attempts); i++ {
		if attempts[i].Report.Score() < attempts[best].Report.Score() {
			best = i
		}
	}
	return best
}

func (o *Orchestrator) transition(log logrus.FieldLogger, r *Result, to State) {
	log.WithFields(logrus.Fields{"from": r.State, "to": to}).Debug("Task state")
	r.State = to
}

func (o *Orchestrator) recordAttempt(ctx context.Context, log logrus.FieldLogger, task Task, a Attempt) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordAttempt(ctx, task, a); err != nil {
		log.WithError(err).Warn("Failed to record attempt")
	}
}

func (o *Orchestrator) recordResult(ctx context.Context, log logrus.FieldLogger, r *Result) {
	if o.recorder == nil {
		return
	}
	if err := o.recorder.RecordResult(ctx, r); err != nil {
		log.WithError(err).Warn("Failed to record result")
	}
}
