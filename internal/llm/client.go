// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/jeranaias/reviewgen/internal/conversation"
	"github.com/jeranaias/reviewgen/internal/heartbeat"
	"github.com/jeranaias/reviewgen/internal/ollama"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "qwen2.5:14b"

// API is the subset of the Ollama client the LLM client depends on.
// *ollama.Client implements it.
type API interface {
	Chat(ctx context.Context, req ollama.ChatRequest) (*ollama.ChatResponse, error)
	ChatStream(ctx context.Context, req ollama.ChatRequest) (*ollama.StreamReader, error)
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	CheckRunning(ctx context.Context) error
}

// Config holds client settings.
type Config struct {
	DefaultModel   string
	FallbackModels []string

	// Timeout bounds a streaming call. Synchronous calls are bounded by the
	// HTTP client of the API implementation.
	Timeout time.Duration

	// Options are the generation defaults sent with every request.
	Options ollama.Options

	// MaxContextTokens sizes the conversation buffer when the client creates it.
	MaxContextTokens int

	Heartbeat heartbeat.Config

	// MinRequestInterval paces outgoing requests; zero means unlimited.
	MinRequestInterval time.Duration
}

// Client issues completions with ordered model fallback.
// It is meant to be driven by a single goroutine.
type Client struct {
	api     API
	cfg     Config
	conv    *conversation.Context
	limiter *rate.Limiter
	log     logrus.FieldLogger
	sink    func(model string) heartbeat.Sink
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) { c.log = log }
}

// WithConversation makes the client share an existing conversation buffer.
func WithConversation(conv *conversation.Context) Option {
	return func(c *Client) { c.conv = conv }
}

// WithHeartbeatSink sets the factory for per-stream heartbeat sinks.
// The default logs through the client logger.
func WithHeartbeatSink(factory func(model string) heartbeat.Sink) Option {
	return func(c *Client) { c.sink = factory }
}

// New creates a client over api.
func New(api API, cfg Config, opts ...Option) *Client {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = heartbeat.DefaultTimeout
	}
	if cfg.Heartbeat.Timeout <= 0 {
		cfg.Heartbeat.Timeout = cfg.Timeout
	}

	c := &Client{api: api, cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}

	if c.log == nil {
		c.log = logrus.StandardLogger()
	}
	if c.conv == nil {
		c.conv = conversation.New(cfg.MaxContextTokens)
	}
	if cfg.MinRequestInterval > 0 {
		c.limiter = rate.NewLimiter(rate.Every(cfg.MinRequestInterval), 1)
	}
	if c.sink == nil {
		c.sink = func(model string) heartbeat.Sink {
			return heartbeat.NewLogSink(c.log, logrus.Fields{"model": model})
		}
	}
	return c
}

// Context returns the conversation buffer.
func (c *Client) Context() *conversation.Context {
	return c.conv
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Models returns the candidate list for a call: requested (or the default)
// first, then fallbacks, deduplicated and in order.
func (c *Client) Models(requested string) []string {
	first := requested
	if first == "" {
		first = c.cfg.DefaultModel
	}

	seen := make(map[string]bool, len(c.cfg.FallbackModels)+1)
	models := make([]string, 0, len(c.cfg.FallbackModels)+1)
	for _, m := range append([]string{first}, c.cfg.FallbackModels...) {
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		models = append(models, m)
	}
	return models
}

// AvailableModels lists installed model names. Failures are logged and
// yield an empty list.
func (c *Client) AvailableModels(ctx context.Context) []string {
	models, err := c.api.ListModels(ctx)
	if err != nil {
		c.log.WithError(err).Warn("Failed to list models")
		return []string{}
	}
	names := make([]string, 0, len(models))
	for _, m := range models {
		names = append(names, m.Name)
	}
	return names
}

// CheckConnection reports whether the endpoint answers. Failures are logged.
func (c *Client) CheckConnection(ctx context.Context) bool {
	if err := c.api.CheckRunning(ctx); err != nil {
		c.log.WithError(err).Warn("Ollama endpoint unreachable")
		return false
	}
	return true
}

func (c *Client) buildRequest(model string, qo queryOptions) ollama.ChatRequest {
	msgs := c.conv.Messages()
	wire := make([]ollama.Message, 0, len(msgs))
	for _, m := range msgs {
		wire = append(wire, ollama.Message{Role: m.Role.String(), Content: m.Content})
	}

	opts := c.cfg.Options
	if qo.options != nil {
		opts = *qo.options
	}
	return ollama.ChatRequest{
		Model:    model,
		Messages: wire,
		Format:   qo.format,
		Options:  &opts,
	}
}

func (c *Client) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return &ollama.ClientError{Type: ollama.ErrTypeCanceled, Message: "request pacing interrupted", Cause: err}
	}
	return nil
}
