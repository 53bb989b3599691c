// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"time"

	"github.com/jeranaias/reviewgen/internal/conversation"
	"github.com/jeranaias/reviewgen/internal/ollama"
)

// Usage holds server-reported token counts.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Response is a completed exchange.
type Response struct {
	Text     string
	Model    string
	Attempts []Attempt
	Usage    Usage
	Duration time.Duration
}

// QueryOption adjusts a single call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	model   string
	reset   bool
	options *ollama.Options
	format  string
}

// WithModel requests a specific model ahead of the fallbacks.
func WithModel(model string) QueryOption {
	return func(o *queryOptions) { o.model = model }
}

// WithResetContext clears the conversation before the call.
func WithResetContext() QueryOption {
	return func(o *queryOptions) { o.reset = true }
}

// WithOptions replaces the generation defaults for this call.
func WithOptions(opts ollama.Options) QueryOption {
	return func(o *queryOptions) { o.options = &opts }
}

// WithJSONFormat asks the server to constrain output to JSON.
func WithJSONFormat() QueryOption {
	return func(o *queryOptions) { o.format = "json" }
}

func collect(opts []QueryOption) queryOptions {
	var qo queryOptions
	for _, opt := range opts {
		opt(&qo)
	}
	return qo
}

// Query sends prompt as a user message and returns the assistant reply.
// On success the reply is appended to the conversation; on failure the
// conversation is left as it was before the call.
func (c *Client) Query(ctx context.Context, prompt string, opts ...QueryOption) (*Response, error) {
	qo := collect(opts)
	if qo.reset {
		c.conv.Clear()
	}

	snap := c.conv.Snapshot()
	if err := c.conv.AddMessage(conversation.RoleUser, prompt); err != nil {
		return nil, err
	}

	start := time.Now()
	var reply *ollama.ChatResponse
	out, err := c.withFallback(ctx, c.Models(qo.model), func(ctx context.Context, model string) error {
		resp, err := c.api.Chat(ctx, c.buildRequest(model, qo))
		if err != nil {
			return err
		}
		reply = resp
		return nil
	})
	if err != nil {
		c.conv.Restore(snap)
		return nil, err
	}

	text := reply.Message.Content
	if err := c.conv.AddMessage(conversation.RoleAssistant, text); err != nil {
		c.conv.Restore(snap)
		return nil, err
	}

	model := reply.Model
	if model == "" {
		model = out.Model
	}
	c.log.WithField("model", model).
		WithField("attempts", len(out.Attempts)).
		WithField("eval_count", reply.EvalCount).
		Debug("Query completed")

	return &Response{
		Text:     text,
		Model:    model,
		Attempts: out.Attempts,
		Usage:    Usage{PromptTokens: reply.PromptEvalCount, CompletionTokens: reply.EvalCount},
		Duration: time.Since(start),
	}, nil
}
