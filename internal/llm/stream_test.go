// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/reviewgen/internal/conversation"
	"github.com/jeranaias/reviewgen/internal/ollama"
)

func ndjsonStream(lines ...string) *ollama.StreamReader {
	body := strings.Join(lines, "\n") + "\n"
	return ollama.NewStreamReader(io.NopCloser(strings.NewReader(body)))
}

func fragment(content string, done bool) string {
	b, _ := json.Marshal(ollama.ChatResponse{
		Model:   "m",
		Message: ollama.Message{Role: "assistant", Content: content},
		Done:    done,
	})
	return string(b)
}

func drain(t *testing.T, s *Stream) ([]string, error) {
	t.Helper()
	var parts []string
	for {
		part, err := s.Next()
		if errors.Is(err, io.EOF) {
			return parts, nil
		}
		if err != nil {
			return parts, err
		}
		parts = append(parts, part)
	}
}

func TestStreamQuery_AssemblesOneMessage(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		return ndjsonStream(fragment("Finding ", false), fragment("", false), fragment("one.", false), fragment("", true)), nil
	}}
	client := newTestClient(api, Config{DefaultModel: "m"})

	s, err := client.StreamQuery(context.Background(), "review")
	require.NoError(t, err)
	defer s.Close()

	parts, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Finding ", "one."}, parts)
	assert.Equal(t, "Finding one.", s.Text())
	assert.Equal(t, 2, s.State().TokenCount)

	msgs := client.Context().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "Finding one.", msgs[1].Content)

	// finite and non-restartable
	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamQuery_ContentOnDoneFragment(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		return ndjsonStream(fragment("all in one", true)), nil
	}}
	client := newTestClient(api, Config{})

	s, err := client.StreamQuery(context.Background(), "p")
	require.NoError(t, err)
	text, err := s.Collect()
	require.NoError(t, err)
	assert.Equal(t, "all in one", text)
	assert.Equal(t, 2, client.Context().Len())
}

func TestStreamQuery_MidStreamFailure(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		return ndjsonStream(fragment("partial ", false), fragment("text", false), `{broken`), nil
	}}
	client := newTestClient(api, Config{DefaultModel: "a", FallbackModels: []string{"b"}})

	s, err := client.StreamQuery(context.Background(), "p")
	require.NoError(t, err)

	parts, err := drain(t, s)
	require.Error(t, err)
	assert.True(t, ollama.IsInvalidResponse(err))
	assert.Equal(t, []string{"partial ", "text"}, parts, "yielded fragments stay with the caller")
	assert.Equal(t, 0, client.Context().Len(), "no assistant message and user message rolled back")
	assert.Equal(t, []string{"a"}, api.calls, "no fallback once text has flowed")

	_, again := s.Next()
	assert.Equal(t, err, again)
	assert.NoError(t, s.Close())
}

func TestStreamQuery_PrematureEnd(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		return ndjsonStream(fragment("cut", false)), nil
	}}
	client := newTestClient(api, Config{})

	s, err := client.StreamQuery(context.Background(), "p")
	require.NoError(t, err)
	_, err = s.Collect()
	require.Error(t, err)
	assert.True(t, ollama.IsConnectionClass(err))
	assert.Equal(t, 0, client.Context().Len())
}

func TestStreamQuery_FallbackBeforeFirstFragment(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		switch model {
		case "a":
			return nil, notRunning()
		case "b":
			return ndjsonStream(), nil // closes before any fragment
		}
		return ndjsonStream(fragment("from c", true)), nil
	}}
	client := newTestClient(api, Config{DefaultModel: "a", FallbackModels: []string{"b", "c"}})

	s, err := client.StreamQuery(context.Background(), "p")
	require.NoError(t, err)
	text, err := s.Collect()
	require.NoError(t, err)

	assert.Equal(t, "from c", text)
	assert.Equal(t, []string{"a", "b", "c"}, api.calls)
	assert.Len(t, s.Attempts(), 3)
}

func TestStreamQuery_AllModelsFail(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		return nil, notRunning()
	}}
	client := newTestClient(api, Config{DefaultModel: "a", FallbackModels: []string{"b"}})

	_, err := client.StreamQuery(context.Background(), "p")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllModelsFailed)
	assert.Equal(t, 0, client.Context().Len())
}

func TestStream_CloseEarlyRollsBack(t *testing.T) {
	api := &fakeAPI{stream: func(model string) (*ollama.StreamReader, error) {
		return ndjsonStream(fragment("one", false), fragment("two", false), fragment("", true)), nil
	}}
	client := newTestClient(api, Config{})

	s, err := client.StreamQuery(context.Background(), "p")
	require.NoError(t, err)
	_, err = s.Next()
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, 0, client.Context().Len())
}

func TestStreamQuery_OverHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		enc := json.NewEncoder(w)
		for _, part := range []string{"No ", "findings."} {
			enc.Encode(ollama.ChatResponse{Model: "m", Message: ollama.Message{Role: "assistant", Content: part}})
			flusher.Flush()
			time.Sleep(5 * time.Millisecond)
		}
		enc.Encode(ollama.ChatResponse{Model: "m", Done: true, EvalCount: 2, PromptEvalCount: 9})
	}))
	defer server.Close()

	api := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
	client := newTestClient(api, Config{DefaultModel: "m", Timeout: 5 * time.Second})

	s, err := client.StreamQuery(context.Background(), "p")
	require.NoError(t, err)
	text, err := s.Collect()
	require.NoError(t, err)

	assert.Equal(t, "No findings.", text)
	assert.Equal(t, Usage{PromptTokens: 9, CompletionTokens: 2}, s.Usage())
	assert.False(t, s.State().FirstToken.IsZero())
}
