// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/reviewgen/internal/config"
	"github.com/jeranaias/reviewgen/internal/ollama"
	"github.com/jeranaias/reviewgen/internal/review"
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

// fakeOllama serves /api/chat from a reply list (repeating the last one),
// /api/tags from models and / as a liveness probe.
type fakeOllama struct {
	mu      sync.Mutex
	replies []string
	models  []string
	calls   int
}

func (f *fakeOllama) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	enc := json.NewEncoder(w)
	switch r.URL.Path {
	case "/":
		fmt.Fprint(w, "Ollama is running")
	case "/api/tags":
		resp := ollama.ListModelsResponse{}
		for _, m := range f.models {
			resp.Models = append(resp.Models, ollama.ModelInfo{Name: m, Size: 8 << 30})
		}
		enc.Encode(resp)
	case "/api/chat":
		var req ollama.ChatRequest
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		idx := f.calls
		f.calls++
		f.mu.Unlock()
		text := f.replies[len(f.replies)-1]
		if idx < len(f.replies) {
			text = f.replies[idx]
		}
		if !req.Stream {
			enc.Encode(ollama.ChatResponse{Model: req.Model, Message: ollama.Message{Role: "assistant", Content: text}, Done: true, EvalCount: 20, PromptEvalCount: 50})
			return
		}
		for _, word := range strings.SplitAfter(text, " ") {
			enc.Encode(ollama.ChatResponse{Model: req.Model, Message: ollama.Message{Role: "assistant", Content: word}})
		}
		enc.Encode(ollama.ChatResponse{Model: req.Model, Done: true, EvalCount: 20, PromptEvalCount: 50})
	default:
		http.NotFound(w, r)
	}
}

type env struct {
	dir    string
	config string
	server *httptest.Server
	fake   *fakeOllama
}

func setup(t *testing.T, replies ...string) *env {
	t.Helper()
	for _, k := range []string{config.EnvOllamaURL, config.EnvModel, config.EnvFallbackModels, config.EnvTimeoutSecs, config.EnvLogLevel, config.EnvServerToken} {
		t.Setenv(k, "")
	}

	fake := &fakeOllama{replies: replies, models: []string{"qwen2.5:14b"}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Endpoint.BaseURL = srv.URL
	cfg.Endpoint.TimeoutSecs = 10
	cfg.History.Path = filepath.Join(dir, "history.db")
	cfg.Logging.Level = "error"
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, config.Save(cfg, path))

	return &env{dir: dir, config: path, server: srv, fake: fake}
}

func (e *env) prompt(t *testing.T, name, text string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(text), 0644))
	return p
}

func (e *env) run(args ...string) (int, string, string) {
	var out, errb bytes.Buffer
	args = append([]string{"--config", e.config, "--no-color"}, args...)
	code := Execute(context.Background(), args, &out, &errb)
	return code, out.String(), errb.String()
}

func TestRootHelp(t *testing.T) {
	var out bytes.Buffer
	code := Execute(context.Background(), []string{"--help"}, &out, &out)
	require.Equal(t, ExitOK, code)
	for _, sub := range []string{"review", "ask", "watch", "serve", "models", "bench", "ping", "history", "config", "schema"} {
		assert.Contains(t, out.String(), sub)
	}
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	code := Execute(context.Background(), []string{"version"}, &out, &out)
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out.String(), "reviewgen "+Version)
}

func TestReview_AcceptedJSONAndHistory(t *testing.T) {
	e := setup(t, goodReview)
	p := e.prompt(t, "memo.md", "Review the memo.")

	code, out, stderr := e.run("review", "--json", p)
	require.Equal(t, ExitOK, code, stderr)

	var results []review.TaskOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	assert.Equal(t, "memo.md", results[0].Name)
	assert.EqualValues(t, "accepted", results[0].State)
	assert.Len(t, results[0].Attempts, 1)
	assert.Equal(t, 70, results[0].TotalTokens)
	assert.Contains(t, stderr, "accepted")

	code, out, _ = e.run("history", "list")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "memo.md")
	assert.Contains(t, out, "accepted")

	code, out, _ = e.run("history", "show", results[0].TaskID[:8])
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Attempt #1 passed")

	code, out, _ = e.run("history", "stats")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "Tasks:    1")
}

func TestHistoryExport(t *testing.T) {
	e := setup(t, goodReview)
	p := e.prompt(t, "memo.md", "Review the memo.")
	code, out, stderr := e.run("review", "--json", p)
	require.Equal(t, ExitOK, code, stderr)
	var results []review.TaskOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	id := results[0].TaskID

	code, out, _ = e.run("history", "export", id[:8])
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "title: memo.md")
	assert.Contains(t, out, "## Attempt Log")

	dir := filepath.Join(e.dir, "exports")
	code, out, stderr = e.run("history", "export", "--format", "html", "-o", dir, id)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "exported")
	matches, err := filepath.Glob(filepath.Join(dir, "review_memo_*.html"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	code, _, stderr = e.run("history", "export", "--format", "pdf", id)
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "unknown export format")
}

func TestHistoryDiff(t *testing.T) {
	e := setup(t, offTopicReply, goodReview)
	p := e.prompt(t, "memo.md", "Review the memo.")
	code, out, stderr := e.run("review", "--json", p)
	require.Equal(t, ExitOK, code, stderr)
	var results []review.TaskOutput
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	id := results[0].TaskID

	code, out, stderr = e.run("history", "diff", id[:8])
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "--- attempt 1")
	assert.Contains(t, out, "+++ attempt 2")
	assert.Contains(t, out, "-"+offTopicReply)
	assert.Contains(t, out, "+## Findings")

	code, out, _ = e.run("history", "diff", id, "2", "2")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "identical")

	code, _, stderr = e.run("history", "diff", id, "1", "7")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "no attempt 7")
}

func TestReview_RetryThenAccept(t *testing.T) {
	e := setup(t, offTopicReply, goodReview)
	p := e.prompt(t, "memo.md", "Review the memo.")

	code, out, stderr := e.run("review", p)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "== memo.md ==")
	assert.Contains(t, out, "## Findings")
	assert.Equal(t, 2, e.fake.calls)
}

func TestReview_DegradedExitCode(t *testing.T) {
	e := setup(t, offTopicReply)
	p := e.prompt(t, "memo.md", "Review the memo.")

	code, _, stderr := e.run("review", "--attempts", "2", p)
	assert.Equal(t, ExitDegraded, code)
	assert.Contains(t, stderr, "degraded")
	assert.Contains(t, stderr, "[off_topic]")
	assert.Equal(t, 2, e.fake.calls)
}

func TestReview_OutputDir(t *testing.T) {
	e := setup(t, goodReview)
	p := e.prompt(t, "memo.md", "Review the memo.")
	outDir := filepath.Join(e.dir, "out")

	code, stdout, stderr := e.run("review", "-o", outDir, p)
	require.Equal(t, ExitOK, code, stderr)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(filepath.Join(outDir, "memo.review.md"))
	require.NoError(t, err)
	assert.Equal(t, goodReview, string(data))
}

func TestReview_Stream(t *testing.T) {
	e := setup(t, goodReview)
	p := e.prompt(t, "memo.md", "Review the memo.")

	code, out, stderr := e.run("review", "--stream", p)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "the current edition")
}

func TestReview_MissingFile(t *testing.T) {
	e := setup(t, goodReview)
	code, _, stderr := e.run("review", filepath.Join(e.dir, "nope.md"))
	assert.Equal(t, ExitError, code)
	assert.Contains(t, stderr, "Error:")
}

func TestAsk(t *testing.T) {
	e := setup(t, "Plain answer.")
	code, out, stderr := e.run("ask", "What", "is", "this?")
	require.Equal(t, ExitOK, code, stderr)
	assert.Equal(t, "Plain answer.\n", out)
}

func TestAsk_JSONRecovery(t *testing.T) {
	e := setup(t, `Sure! Here's the JSON: {"a":1} hope that helps`)
	code, out, stderr := e.run("ask", "--json", "give me a")
	require.Equal(t, ExitOK, code, stderr)

	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, float64(1), v["a"])
}

func TestAsk_StreamFromStdin(t *testing.T) {
	e := setup(t, "streamed words here")
	var out, errb bytes.Buffer
	root := NewRootCmd()
	root.SetArgs([]string{"--config", e.config, "ask", "--stream", "-"})
	root.SetIn(strings.NewReader("prompt from stdin"))
	root.SetOut(&out)
	root.SetErr(&errb)
	require.NoError(t, root.Execute(), errb.String())
	assert.Equal(t, "streamed words here\n", out.String())
}

func TestModels(t *testing.T) {
	e := setup(t, goodReview)
	e.fake.models = []string{"qwen2.5:14b", "llama3:8b"}

	code, out, stderr := e.run("models")
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "qwen2.5:14b")
	assert.Contains(t, out, "8.0 GB")
	assert.Contains(t, out, "default")
	assert.NotContains(t, stderr, "not installed")
}

func TestPing(t *testing.T) {
	e := setup(t, goodReview)
	code, out, _ := e.run("ping")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "installed")

	e.server.Close()
	code, out, _ = e.run("ping")
	assert.Equal(t, ExitError, code)
	assert.Contains(t, out, "unreachable")
}

func TestSchema(t *testing.T) {
	for _, name := range []string{"review", "profile"} {
		var out bytes.Buffer
		code := Execute(context.Background(), []string{"schema", name}, &out, &out)
		require.Equal(t, ExitOK, code, out.String())

		var doc map[string]any
		require.NoError(t, json.Unmarshal(out.Bytes(), &doc), name)
		assert.Contains(t, doc, "properties", name)
	}

	var out bytes.Buffer
	assert.Equal(t, ExitError, Execute(context.Background(), []string{"schema", "nope"}, &out, &out))
}

func TestConfigSetGet(t *testing.T) {
	e := setup(t, goodReview)

	code, _, stderr := e.run("config", "set", "review.max_attempts", "5")
	require.Equal(t, ExitOK, code, stderr)

	code, out, _ := e.run("config", "get", "review.max_attempts")
	require.Equal(t, ExitOK, code)
	assert.Equal(t, "5\n", out)

	code, _, _ = e.run("config", "set", "review.max_attempts", "50")
	assert.Equal(t, ExitError, code)

	code, out, _ = e.run("config", "keys")
	require.Equal(t, ExitOK, code)
	assert.Contains(t, out, "endpoint.fallback_models")
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	var out bytes.Buffer
	require.Equal(t, ExitOK, Execute(context.Background(), []string{"--config", path, "config", "init"}, &out, &out))
	assert.FileExists(t, path)
	assert.Equal(t, ExitError, Execute(context.Background(), []string{"--config", path, "config", "init"}, &out, &out))
}

func TestTableAlignsWideRunes(t *testing.T) {
	var buf bytes.Buffer
	tb := newTable("NAME", "STATE")
	tb.add("審査.md", "accepted")
	tb.add("a.md", "failed")
	tb.render(&buf)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	// 審査 is four columns wide, so both rows put STATE at the same column
	assert.Equal(t, strings.Index(lines[2], "failed"), displayWidth(lines[1][:strings.Index(lines[1], "accepted")]))
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, exitCode(nil))
	assert.Equal(t, "memo.review.md", outputName("memo.md"))
	assert.Equal(t, "notes.review.md", outputName("notes"))
}

func TestBench(t *testing.T) {
	e := setup(t, goodReview)
	saveDir := filepath.Join(e.dir, "bench")

	code, out, stderr := e.run("bench", "--save", "--save-dir", saveDir)
	require.Equal(t, ExitOK, code, stderr)
	assert.Contains(t, out, "qwen2.5:14b")
	assert.Contains(t, out, "2/2")
	assert.Contains(t, out, `suggested: default_model = "qwen2.5:14b"`)

	entries, err := os.ReadDir(saveDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
