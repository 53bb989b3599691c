// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/reviewgen/internal/heartbeat"
	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/ollama"
	"github.com/jeranaias/reviewgen/internal/validate"
)

const goodReview = `## Summary
This review covers the draft document and summarizes the main deficiency found.

## Findings
Paragraph 3 cites a superseded reference. The compliance matrix omits requirement 4.2.
Section 5 lacks an owner for each action item.

## Recommendations
Update the reference to the current edition and assign owners for every action item.
`

const offTopicReply = "Hello! I'd be happy to help you with that. What would you like to talk about?"

const reviewPrompt = "Review the attached memo and report findings."

// cannedOllama serves replies in order, repeating the last one.
type cannedOllama struct {
	mu       sync.Mutex
	replies  []string
	status   int
	requests []ollama.ChatRequest
}

func (c *cannedOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ollama.ChatRequest
	json.NewDecoder(r.Body).Decode(&req)

	c.mu.Lock()
	idx := len(c.requests)
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.status != 0 {
		w.WriteHeader(c.status)
		io.WriteString(w, `{"error":"bad request"}`)
		return
	}

	text := c.replies[len(c.replies)-1]
	if idx < len(c.replies) {
		text = c.replies[idx]
	}

	enc := json.NewEncoder(w)
	if !req.Stream {
		enc.Encode(ollama.ChatResponse{
			Model:           req.Model,
			Message:         ollama.Message{Role: "assistant", Content: text},
			Done:            true,
			PromptEvalCount: 50,
			EvalCount:       20,
		})
		return
	}

	for _, word := range strings.SplitAfter(text, " ") {
		enc.Encode(ollama.ChatResponse{Model: req.Model, Message: ollama.Message{Role: "assistant", Content: word}})
	}
	enc.Encode(ollama.ChatResponse{Model: req.Model, Done: true, EvalCount: 20, PromptEvalCount: 50})
}

func (c *cannedOllama) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newHarness(t *testing.T, canned *cannedOllama, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	server := httptest.NewServer(canned)
	t.Cleanup(server.Close)

	api := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: server.URL, Timeout: 5 * time.Second})
	client := llm.New(api, llm.Config{DefaultModel: "reviewer", Timeout: 5 * time.Second},
		llm.WithLogger(quietLogger()),
		llm.WithHeartbeatSink(func(string) heartbeat.Sink { return nil }),
	)
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return New(client, validate.New(nil), cfg, opts...)
}

func TestRun_RetryEscalation(t *testing.T) {
	canned := &cannedOllama{replies: []string{offTopicReply, goodReview}}
	o := newHarness(t, canned, Config{MaxAttempts: 3})

	result, err := o.Run(context.Background(), Task{Name: "memo", Prompt: reviewPrompt})
	require.NoError(t, err)

	assert.Equal(t, StateAccepted, result.State)
	assert.False(t, result.Degraded)
	assert.Equal(t, goodReview, result.Text)
	require.Len(t, result.Metrics(), 2)
	assert.Equal(t, 1, result.Metrics()[0].AttemptNumber)
	assert.Equal(t, 2, result.Metrics()[1].AttemptNumber)
	assert.True(t, result.Attempts[0].Failed(validate.CategoryOffTopic))
	assert.False(t, result.Attempts[0].Passed())
	assert.True(t, result.Attempts[1].Passed())
	assert.Equal(t, 1, result.Best)

	// the retry sees only the reinforced prompt; the rejected exchange was dropped
	retry := canned.requests[1]
	require.Len(t, retry.Messages, 1)
	assert.True(t, strings.HasPrefix(retry.Messages[0].Content, offTopicNotice))
	assert.True(t, strings.HasSuffix(retry.Messages[0].Content, reviewPrompt))

	// accepted exchange stays in the conversation
	assert.Equal(t, 2, o.client.Context().Len())
}

func TestRun_DegradedAfterExhaustion(t *testing.T) {
	canned := &cannedOllama{replies: []string{offTopicReply}}
	o := newHarness(t, canned, Config{MaxAttempts: 2})

	result, err := o.Run(context.Background(), Task{Prompt: reviewPrompt})
	require.NoError(t, err, "degraded is not an error")

	assert.Equal(t, 2, canned.calls())
	assert.Len(t, result.Attempts, 2)
	assert.Equal(t, StateDegraded, result.State)
	assert.True(t, result.Degraded)
	assert.Equal(t, 0, result.Best, "ties go to the earliest attempt")
	assert.Equal(t, offTopicReply, result.Text)
	assert.Equal(t, result.Attempts[0].Report.Score(), result.Attempts[1].Report.Score())
}

func TestRun_DegradedPicksFewestIssues(t *testing.T) {
	partial := strings.Split(goodReview, "## Recommendations")[0]
	canned := &cannedOllama{replies: []string{offTopicReply, partial, offTopicReply}}
	o := newHarness(t, canned, Config{MaxAttempts: 3})

	result, err := o.Run(context.Background(), Task{Prompt: reviewPrompt})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	assert.Equal(t, 1, result.Best)
	assert.Equal(t, partial, result.Text)
	assert.Equal(t, 2, result.BestAttempt().Number)

	// the format notice names the missing header for the third attempt
	third := canned.requests[2].Messages[0].Content
	assert.Contains(t, third, "Missing: Recommendations.")
}

func TestRun_RepetitionSalvage(t *testing.T) {
	looped := goodReview + "\n" + goodReview + "\n" + goodReview
	canned := &cannedOllama{replies: []string{looped}}
	o := newHarness(t, canned, Config{MaxAttempts: 1})

	result, err := o.Run(context.Background(), Task{Prompt: reviewPrompt})
	require.NoError(t, err)

	require.True(t, result.Degraded)
	require.True(t, result.BestAttempt().Failed(validate.CategoryRepetition))
	assert.Equal(t, looped, result.RawText)
	assert.Equal(t, validate.DeduplicateSections(looped), result.Text)
	assert.Equal(t, 1, strings.Count(result.Text, "## Findings"))
}

func TestRun_ClientErrorFails(t *testing.T) {
	canned := &cannedOllama{status: http.StatusBadRequest}
	o := newHarness(t, canned, Config{MaxAttempts: 3})

	result, err := o.Run(context.Background(), Task{Prompt: reviewPrompt})
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, err, result.Err)
	assert.Empty(t, result.Attempts)
	assert.Equal(t, -1, result.Best)
	assert.Equal(t, 1, canned.calls(), "client errors are not retried")
}

func TestRun_Streaming(t *testing.T) {
	canned := &cannedOllama{replies: []string{goodReview}}
	var mu sync.Mutex
	var fragments []string
	o := newHarness(t, canned, Config{
		MaxAttempts: 2,
		Stream:      true,
		OnFragment: func(task Task, attempt int, fragment string) {
			mu.Lock()
			fragments = append(fragments, fragment)
			mu.Unlock()
		},
	})

	result, err := o.Run(context.Background(), Task{Prompt: reviewPrompt})
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, result.State)
	assert.Equal(t, goodReview, result.Text)
	assert.Equal(t, goodReview, strings.Join(fragments, ""))
	assert.Equal(t, 70, result.Attempts[0].Metrics.TokensUsed)
	assert.True(t, canned.requests[0].Stream)
}

func TestRun_MetricsAndTaskID(t *testing.T) {
	canned := &cannedOllama{replies: []string{goodReview}}
	o := newHarness(t, canned, Config{})

	result, err := o.Run(context.Background(), Task{Prompt: reviewPrompt})
	require.NoError(t, err)

	_, err = uuid.Parse(result.TaskID)
	assert.NoError(t, err)

	m := result.Attempts[0].Metrics
	assert.Equal(t, 70, m.TokensUsed)
	assert.Equal(t, len([]rune(reviewPrompt)), m.InputChars)
	assert.Equal(t, len([]rune(goodReview)), m.OutputChars)
	assert.GreaterOrEqual(t, m.ElapsedSeconds, 0.0)
	assert.Equal(t, 70, result.TotalTokens())
}

type memRecorder struct {
	attempts []Attempt
	results  []*Result
}

func (m *memRecorder) RecordAttempt(ctx context.Context, task Task, a Attempt) error {
	m.attempts = append(m.attempts, a)
	return nil
}

func (m *memRecorder) RecordResult(ctx context.Context, r *Result) error {
	m.results = append(m.results, r)
	return nil
}

func TestRun_Recorder(t *testing.T) {
	canned := &cannedOllama{replies: []string{offTopicReply, goodReview}}
	rec := &memRecorder{}
	o := newHarness(t, canned, Config{MaxAttempts: 3}, WithRecorder(rec))

	result, err := o.Run(context.Background(), Task{ID: "task-1", Prompt: reviewPrompt})
	require.NoError(t, err)

	assert.Len(t, rec.attempts, 2)
	require.Len(t, rec.results, 1)
	assert.Same(t, result, rec.results[0])
	assert.Equal(t, "task-1", result.TaskID)
}

func TestRunAll(t *testing.T) {
	canned := &cannedOllama{replies: []string{goodReview}}
	o := newHarness(t, canned, Config{MaxAttempts: 1})

	results := o.RunAll(context.Background(), []Task{
		{Name: "a", Prompt: reviewPrompt, ResetContext: true},
		{Name: "b", Prompt: reviewPrompt, ResetContext: true},
	})
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].TaskName)
	assert.Equal(t, StateAccepted, results[1].State)
	assert.Len(t, canned.requests[1].Messages, 1, "context reset between tasks")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, o.RunAll(ctx, []Task{{Prompt: reviewPrompt}}))
}

func TestPickBest(t *testing.T) {
	mk := func(issues int) Attempt {
		var r validate.Report
		for i := 0; i < issues; i++ {
			r.Issues = append(r.Issues, validate.Issue{Severity: validate.SeverityError})
		}
		return Attempt{Report: r}
	}
	assert.Equal(t, 0, pickBest([]Attempt{mk(2), mk(2), mk(3)}))
	assert.Equal(t, 2, pickBest([]Attempt{mk(3), mk(2), mk(1), mk(1)}))
}

func TestStateTerminal(t *testing.T) {
	assert.True(t, StateAccepted.Terminal())
	assert.True(t, StateDegraded.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateRetrying.Terminal())
	assert.False(t, StatePending.Terminal())
}
