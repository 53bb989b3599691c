// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/jeranaias/reviewgen/internal/conversation"
	"github.com/jeranaias/reviewgen/internal/heartbeat"
	"github.com/jeranaias/reviewgen/internal/ollama"
)

// Stream is a lazily consumed, single-pass sequence of text fragments.
// Call Next until it returns io.EOF or an error, then Close.
type Stream struct {
	client  *Client
	reader  *ollama.StreamReader
	monitor *heartbeat.Monitor
	cancel  context.CancelFunc
	snap    conversation.Snapshot

	model    string
	attempts []Attempt
	start    time.Time

	pending  *ollama.StreamChunk
	text     strings.Builder
	finished bool
	err      error
	closed   bool
}

// StreamQuery appends prompt and opens a streaming completion. Fallback
// applies only until the first fragment arrives; once text has flowed, a
// failure is returned from Next.
func (c *Client) StreamQuery(ctx context.Context, prompt string, opts ...QueryOption) (*Stream, error) {
	qo := collect(opts)
	if qo.reset {
		c.conv.Clear()
	}

	snap := c.conv.Snapshot()
	if err := c.conv.AddMessage(conversation.RoleUser, prompt); err != nil {
		return nil, err
	}

	s := &Stream{client: c, snap: snap, start: time.Now()}

	out, err := c.withFallback(ctx, c.Models(qo.model), func(ctx context.Context, model string) error {
		return s.open(ctx, model, qo)
	})
	s.attempts = out.Attempts
	if err != nil {
		c.conv.Restore(snap)
		return nil, err
	}
	return s, nil
}

// open starts one streaming attempt and reads up to the first fragment.
func (s *Stream) open(parent context.Context, model string, qo queryOptions) error {
	c := s.client
	ctx, cancel := context.WithTimeout(parent, c.cfg.Timeout)

	mon := heartbeat.New(c.cfg.Heartbeat, c.sink(model))
	mon.Start()

	reader, err := c.api.ChatStream(ctx, c.buildRequest(model, qo))
	if err != nil {
		mon.Stop()
		cancel()
		return err
	}

	first, err := reader.Next()
	if err != nil {
		reader.Close()
		mon.Stop()
		cancel()
		if errors.Is(err, io.EOF) {
			return &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "stream ended before completion"}
		}
		return err
	}

	s.reader = reader
	s.monitor = mon
	s.cancel = cancel
	s.model = model
	if first.Model != "" {
		s.model = first.Model
	}
	if first.Content != "" {
		mon.OnToken(1)
	}
	s.pending = &first
	return nil
}

// Next returns the next non-empty fragment. It returns io.EOF after the
// final fragment, once the assembled text has been stored as one assistant
// message. Any other error ends the stream and rolls the conversation back.
func (s *Stream) Next() (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.finished {
		return "", io.EOF
	}
	if s.closed {
		return "", io.ErrClosedPipe
	}

	for {
		var chunk ollama.StreamChunk
		counted := false
		if s.pending != nil {
			chunk = *s.pending
			s.pending = nil
			counted = true
		} else {
			var err error
			chunk, err = s.reader.Next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = &ollama.ClientError{Type: ollama.ErrTypeConnection, Message: "stream ended before completion"}
				}
				return "", s.fail(err)
			}
		}

		if chunk.Content != "" {
			if !counted {
				s.monitor.OnToken(1)
			}
			s.text.WriteString(chunk.Content)
		}

		if chunk.Done {
			if err := s.finish(); err != nil {
				return "", err
			}
			if chunk.Content != "" {
				return chunk.Content, nil
			}
			return "", io.EOF
		}

		if chunk.Content != "" {
			return chunk.Content, nil
		}
	}
}

func (s *Stream) finish() error {
	conv := s.client.conv
	if err := conv.AddMessage(conversation.RoleAssistant, s.text.String()); err != nil {
		return s.fail(err)
	}
	s.finished = true
	s.release()

	s.client.log.WithField("model", s.model).
		WithField("tokens", s.reader.Usage().CompletionTokens).
		WithField("elapsed", time.Since(s.start).Round(time.Millisecond).String()).
		Debug("Stream completed")
	return nil
}

func (s *Stream) fail(err error) error {
	s.err = err
	s.client.conv.Restore(s.snap)
	s.release()
	s.client.log.WithError(err).WithField("model", s.model).Warn("Stream failed")
	return err
}

func (s *Stream) release() {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	if s.reader != nil {
		s.reader.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Close releases the stream. Closing before the final fragment abandons the
// exchange: nothing is stored and the user message is rolled back.
func (s *Stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.finished && s.err == nil {
		s.client.conv.Restore(s.snap)
	}
	s.release()
	return nil
}

// Text returns the fragments received so far.
func (s *Stream) Text() string {
	return s.text.String()
}

// Model returns the model serving the stream.
func (s *Stream) Model() string {
	return s.model
}

// Attempts returns the open attempts, including failed fallbacks.
func (s *Stream) Attempts() []Attempt {
	return s.attempts
}

// Usage returns the server-reported counts, zero until the stream finished.
func (s *Stream) Usage() Usage {
	u := s.reader.Usage()
	return Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens}
}

// State returns the heartbeat observations for the stream.
func (s *Stream) State() heartbeat.State {
	return s.monitor.State()
}

// Collect drains s and returns the full text.
func (s *Stream) Collect() (string, error) {
	defer s.Close()
	for {
		_, err := s.Next()
		if errors.Is(err, io.EOF) {
			return s.Text(), nil
		}
		if err != nil {
			return s.Text(), err
		}
	}
}
