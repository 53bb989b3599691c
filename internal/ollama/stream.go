// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// maxLineSize bounds one NDJSON fragment.
const maxLineSize = 1 << 20

// =============================================================================
// STREAM READER
// =============================================================================

// Usage holds the counters reported on the final fragment.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalDuration    time.Duration
	EvalDuration     time.Duration
}

// StreamReader pulls NDJSON fragments from an open /api/chat stream.
// Next and Close may be called from different goroutines; Next itself is not
// meant for concurrent callers.
type StreamReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner

	// PERFORMANCE: strings.Builder avoids quadratic allocations
	accumulator strings.Builder
	model       string
	usage       Usage
	done        bool
	err         error

	closeOnce sync.Once
}

// NewStreamReader creates a stream reader over an NDJSON body.
func NewStreamReader(body io.ReadCloser) *StreamReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &StreamReader{body: body, scanner: scanner}
}

// Next returns the next fragment. After the done fragment has been returned,
// Next returns io.EOF. A body that ends before done, a malformed line, or a
// server-reported error yields a *ClientError; once an error is returned it is
// returned again on every later call.
func (s *StreamReader) Next() (StreamChunk, error) {
	if s.err != nil {
		return StreamChunk{}, s.err
	}
	if s.done {
		return StreamChunk{}, io.EOF
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var resp ChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return s.fail(malformed("malformed stream fragment", line, err))
		}
		if resp.Error != "" {
			return s.fail(&ClientError{Type: ErrTypeServer, Status: 200, Message: "stream error: " + resp.Error})
		}

		if resp.Model != "" {
			s.model = resp.Model
		}
		s.accumulator.WriteString(resp.Message.Content)

		chunk := StreamChunk{
			Content: resp.Message.Content,
			Done:    resp.Done,
			Model:   s.model,
		}
		if resp.Done {
			s.done = true
			s.usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalDuration:    time.Duration(resp.TotalDuration),
				EvalDuration:     time.Duration(resp.EvalDuration),
			}
			chunk.DoneReason = resp.DoneReason
			chunk.TotalDuration = s.usage.TotalDuration
			chunk.EvalDuration = s.usage.EvalDuration
			chunk.PromptTokens = s.usage.PromptTokens
			chunk.CompletionTokens = s.usage.CompletionTokens
		}
		return chunk, nil
	}

	if err := s.scanner.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return s.fail(&ClientError{Type: ErrTypeInvalidResponse, Message: "stream fragment too large", Cause: err})
		}
		return s.fail(classifyTransport(err))
	}
	return s.fail(&ClientError{Type: ErrTypeConnection, Message: "stream ended before completion"})
}

func (s *StreamReader) fail(err *ClientError) (StreamChunk, error) {
	s.err = err
	return StreamChunk{}, err
}

// Close releases the underlying connection. It is safe to call more than once
// and unblocks a pending Next.
func (s *StreamReader) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.body.Close()
	})
	return err
}

// Text returns everything received so far.
func (s *StreamReader) Text() string {
	return s.accumulator.String()
}

// Model returns the model name the server reported.
func (s *StreamReader) Model() string {
	return s.model
}

// Done reports whether the final fragment has been read.
func (s *StreamReader) Done() bool {
	return s.done
}

// Usage returns the counters from the final fragment. Zero until Done.
func (s *StreamReader) Usage() Usage {
	return s.usage
}
