// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

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
)

// =============================================================================
// MESSAGE TESTS
// =============================================================================

func TestMessageConstructors(t *testing.T) {
	tests := []struct {
		msg  Message
		role string
	}{
		{NewUserMessage("Hello"), "user"},
		{NewAssistantMessage("Response"), "assistant"},
		{NewSystemMessage("You are a reviewer"), "system"},
	}
	for _, tt := range tests {
		if tt.msg.Role != tt.role {
			t.Errorf("Role = %q, want %q", tt.msg.Role, tt.role)
		}
		if tt.msg.Content == "" {
			t.Errorf("Content empty for role %q", tt.role)
		}
	}
}

func TestChatResponseTokensPerSecond(t *testing.T) {
	resp := &ChatResponse{EvalCount: 100, EvalDuration: int64(2 * time.Second)}
	if got := resp.TokensPerSecond(); got != 50 {
		t.Errorf("TokensPerSecond() = %v, want 50", got)
	}

	zero := &ChatResponse{EvalCount: 100}
	if got := zero.TokensPerSecond(); got != 0 {
		t.Errorf("TokensPerSecond() with zero duration = %v, want 0", got)
	}
}

// =============================================================================
// CLIENT TESTS
// =============================================================================

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClientWithConfig(&ClientConfig{BaseURL: server.URL + "/", Timeout: 5 * time.Second})
}

func TestNewClientDefaults(t *testing.T) {
	client := NewClientWithConfig(&ClientConfig{})
	if client.BaseURL() != "http://127.0.0.1:11434" {
		t.Errorf("BaseURL() = %q", client.BaseURL())
	}
	if client.config.Timeout != 120*time.Second {
		t.Errorf("Timeout = %v, want 120s", client.config.Timeout)
	}
}

func TestChat_Success(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/chat" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Stream {
			t.Error("Chat sent stream=true")
		}
		if req.Model != "qwen2.5:14b" || len(req.Messages) != 1 {
			t.Errorf("unexpected request body: %+v", req)
		}
		if req.Options == nil || req.Options.Temperature != 0.2 {
			t.Errorf("options not forwarded: %+v", req.Options)
		}

		json.NewEncoder(w).Encode(ChatResponse{
			Model:           "qwen2.5:14b",
			Message:         Message{Role: "assistant", Content: "Looks good."},
			Done:            true,
			PromptEvalCount: 12,
			EvalCount:       3,
		})
	})

	resp, err := client.Chat(context.Background(), ChatRequest{
		Model:    "qwen2.5:14b",
		Messages: []Message{NewUserMessage("review this")},
		Stream:   true,
		Options:  &Options{Temperature: 0.2},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Message.Content != "Looks good." {
		t.Errorf("Content = %q", resp.Message.Content)
	}
	if resp.EvalCount != 3 || resp.PromptEvalCount != 12 {
		t.Errorf("usage = %d/%d", resp.PromptEvalCount, resp.EvalCount)
	}
}

func TestChat_StatusClassification(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantType   ErrorType
		connection bool
	}{
		{"model missing", http.StatusNotFound, `{"error":"model 'nope' not found"}`, ErrTypeModelNotFound, true},
		{"server error", http.StatusInternalServerError, `{"error":"out of memory"}`, ErrTypeServer, true},
		{"bad gateway", http.StatusBadGateway, ``, ErrTypeServer, true},
		{"bad request", http.StatusBadRequest, `{"error":"invalid options"}`, ErrTypeRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := client.Chat(context.Background(), ChatRequest{Model: "nope"})
			if err == nil {
				t.Fatal("expected error")
			}
			var clientErr *ClientError
			if !errors.As(err, &clientErr) {
				t.Fatalf("error %T is not *ClientError", err)
			}
			if clientErr.Type != tt.wantType {
				t.Errorf("Type = %v, want %v", clientErr.Type, tt.wantType)
			}
			if clientErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", clientErr.Status, tt.status)
			}
			if IsConnectionClass(err) != tt.connection {
				t.Errorf("IsConnectionClass() = %v, want %v", !tt.connection, tt.connection)
			}
		})
	}
}

func TestChat_ServerMessageInError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":"model 'llama9' not found"}`)
	})

	_, err := client.Chat(context.Background(), ChatRequest{Model: "llama9"})
	if !errors.Is(err, ErrModelNotFound) {
		t.Fatalf("errors.Is(err, ErrModelNotFound) = false for %v", err)
	}
	if !strings.Contains(err.Error(), "llama9") {
		t.Errorf("error %q does not carry server message", err)
	}
}

func TestChat_MalformedBody(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "<html>proxy login required</html>")
	})

	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	if !IsInvalidResponse(err) {
		t.Fatalf("expected invalid response, got %v", err)
	}
	if !errors.Is(err, ErrInvalidResponse) {
		t.Error("errors.Is(err, ErrInvalidResponse) = false")
	}
	if IsConnectionClass(err) {
		t.Error("malformed body must not be connection-class")
	}
	var clientErr *ClientError
	errors.As(err, &clientErr)
	if !strings.Contains(clientErr.Snippet, "proxy login") {
		t.Errorf("Snippet = %q", clientErr.Snippet)
	}
}

func TestChat_NotRunning(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: url, Timeout: 2 * time.Second})
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	if !IsNotRunning(err) {
		t.Fatalf("expected not running, got %v", err)
	}
	if !errors.Is(err, ErrNotRunning) {
		t.Error("errors.Is(err, ErrNotRunning) = false")
	}
	if !IsConnectionClass(err) {
		t.Error("not running must be connection-class")
	}
}

func TestChat_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := NewClientWithConfig(&ClientConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond})
	_, err := client.Chat(context.Background(), ChatRequest{Model: "m"})
	if !IsTimeout(err) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Error("errors.Is(err, ErrTimeout) = false")
	}
}

func TestChat_Canceled(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Chat(ctx, ChatRequest{Model: "m"})
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected canceled, got %v", err)
	}
	if IsConnectionClass(err) {
		t.Error("cancellation must not be connection-class")
	}
}

func TestCheckRunning(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, "Ollama is running")
	})
	if err := client.CheckRunning(context.Background()); err != nil {
		t.Errorf("CheckRunning() = %v", err)
	}
}

func TestListModels(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("path = %q", r.URL.Path)
		}
		io.WriteString(w, `{"models":[{"name":"qwen2.5:14b","size":9000000000,"details":{"family":"qwen2"}},{"name":"llama3.1:8b"}]}`)
	})

	models, err := client.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error = %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("len(models) = %d, want 2", len(models))
	}
	if models[0].Name != "qwen2.5:14b" || models[0].Details.Family != "qwen2" {
		t.Errorf("models[0] = %+v", models[0])
	}
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestClientErrorString(t *testing.T) {
	err := &ClientError{Type: ErrTypeInvalidResponse, Message: "bad", Snippet: "xyz", Cause: io.ErrUnexpectedEOF}
	got := err.Error()
	for _, want := range []string{"bad", "xyz", "unexpected EOF"} {
		if !strings.Contains(got, want) {
			t.Errorf("Error() = %q, missing %q", got, want)
		}
	}
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Error("Unwrap does not expose cause")
	}
}

func TestErrorTypeString(t *testing.T) {
	if ErrTypeModelNotFound.String() != "model_not_found" {
		t.Errorf("String() = %q", ErrTypeModelNotFound.String())
	}
	if ErrorType(99).String() != "unknown" {
		t.Errorf("String() = %q", ErrorType(99).String())
	}
}

func TestIsConnectionClass_NonClientError(t *testing.T) {
	if IsConnectionClass(errors.New("plain")) {
		t.Error("plain error classified as connection-class")
	}
	if IsConnectionClass(nil) {
		t.Error("nil classified as connection-class")
	}
}
