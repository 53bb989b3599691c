// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/reviewgen/internal/ollama"
)

// ErrAllModelsFailed matches any *FallbackError via errors.Is.
var ErrAllModelsFailed = errors.New("llm: all models failed")

// Attempt records one try against one model.
type Attempt struct {
	Model    string
	Err      error // nil on success
	Duration time.Duration
}

// Outcome is the result of walking the candidate list.
type Outcome struct {
	// Model that succeeded, empty on failure.
	Model    string
	Attempts []Attempt
}

// FallbackError is returned when every candidate failed with a
// connection-class error. It unwraps to the last of those errors.
type FallbackError struct {
	Attempts []Attempt
}

func (e *FallbackError) Error() string {
	models := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		models[i] = a.Model
	}
	msg := fmt.Sprintf("all %d models failed (%s)", len(e.Attempts), strings.Join(models, ", "))
	if last := e.Unwrap(); last != nil {
		msg += ": " + last.Error()
	}
	return msg
}

func (e *FallbackError) Unwrap() error {
	if len(e.Attempts) == 0 {
		return nil
	}
	return e.Attempts[len(e.Attempts)-1].Err
}

func (e *FallbackError) Is(target error) bool {
	return target == ErrAllModelsFailed
}

// callFunc performs one attempt against model.
type callFunc func(ctx context.Context, model string) error

// withFallback tries models left to right. A connection-class error moves on
// to the next model; any other error stops the walk and is returned as is.
func (c *Client) withFallback(ctx context.Context, models []string, call callFunc) (Outcome, error) {
	var out Outcome

	for i, model := range models {
		if err := c.wait(ctx); err != nil {
			return out, err
		}

		start := time.Now()
		err := call(ctx, model)
		out.Attempts = append(out.Attempts, Attempt{Model: model, Err: err, Duration: time.Since(start)})

		if err == nil {
			out.Model = model
			return out, nil
		}
		if !ollama.IsConnectionClass(err) {
			return out, err
		}

		entry := c.log.WithError(err).WithFields(logrus.Fields{"model": model, "attempt": i + 1})
		if i+1 < len(models) {
			entry.WithField("next", models[i+1]).Warn("Model failed, falling back")
		} else {
			entry.Warn("Model failed, no fallbacks left")
		}
	}

	return out, &FallbackError{Attempts: out.Attempts}
}
