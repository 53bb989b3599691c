// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/jeranaias/reviewgen/internal/util"
)

// maxErrorBody bounds how much of an error or malformed body is read.
const maxErrorBody = 64 * 1024

// snippetRunes bounds body excerpts carried on ClientError.
const snippetRunes = 200

// =============================================================================
// CLIENT CONFIGURATION
// =============================================================================

// ClientConfig holds configuration options for the Ollama client.
type ClientConfig struct {
	// BaseURL is the Ollama API base URL (default: http://127.0.0.1:11434)
	// Explicit IPv4 avoids IPv6 localhost resolution issues on Windows
	BaseURL string

	// Timeout bounds one non-streaming request, connect through body (default: 120s).
	// Streaming requests are bounded by the caller's context instead.
	Timeout time.Duration

	// HTTPClient overrides the transport; mainly for tests.
	HTTPClient *http.Client
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL: "http://127.0.0.1:11434",
		Timeout: 120 * time.Second,
	}
}

// =============================================================================
// CLIENT
// =============================================================================

// Client handles communication with the Ollama API.
// The Client is safe for concurrent use.
type Client struct {
	config       *ClientConfig
	httpClient   *http.Client
	streamClient *http.Client
}

// NewClient creates a new Ollama client with default configuration.
func NewClient() *Client {
	return NewClientWithConfig(DefaultConfig())
}

// NewClientWithConfig creates a new Ollama client with custom configuration.
func NewClientWithConfig(config *ClientConfig) *Client {
	if config == nil {
		config = DefaultConfig()
	}

	// Fill in defaults for any zero values
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout == 0 {
		config.Timeout = 120 * time.Second
	}

	httpClient := config.HTTPClient
	streamClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
		// Streams are long-lived; the per-call deadline comes from the context.
		// Ollama runs on localhost over plain HTTP, so no TLS config applies.
		streamClient = &http.Client{}
	}

	return &Client{
		config:       config,
		httpClient:   httpClient,
		streamClient: streamClient,
	}
}

// BaseURL returns the configured endpoint.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// =============================================================================
// HEALTH CHECK
// =============================================================================

// CheckRunning verifies that Ollama is reachable and running.
func (c *Client) CheckRunning(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/", nil)
	if err != nil {
		return &ClientError{Type: ErrTypeRequest, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Status:  resp.StatusCode,
			Message: "unexpected status from Ollama: " + resp.Status,
		}
	}
	return nil
}

// =============================================================================
// MODEL OPERATIONS
// =============================================================================

// ListModels retrieves all installed models from Ollama.
func (c *Client) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeRequest, Message: "failed to create request", Cause: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "failed to list models")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	var result ListModelsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, malformed("failed to decode model list", body, err)
	}
	return result.Models, nil
}

// =============================================================================
// CHAT OPERATIONS
// =============================================================================

// Chat sends a non-streaming chat request and returns the complete response.
// The Stream field of req is forced to false.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	req.Stream = false

	httpReq, err := c.newChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp, "chat request failed")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	var result ChatResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, malformed("failed to decode chat response", body, err)
	}
	if result.Error != "" {
		return nil, &ClientError{Type: ErrTypeServer, Status: resp.StatusCode, Message: result.Error}
	}
	return &result, nil
}

// =============================================================================
// STREAMING CHAT
// =============================================================================

// ChatStream opens a streaming chat request and returns a reader positioned
// at the first fragment. The caller must Close the reader.
// The Stream field of req is forced to true.
func (c *Client) ChatStream(ctx context.Context, req ChatRequest) (*StreamReader, error) {
	req.Stream = true

	httpReq, err := c.newChatRequest(ctx, req)
	if err != nil {
		return nil, err
	}

	resp, err := c.streamClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(err)
	}

	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp.Body)
		return nil, statusError(resp, "stream request failed")
	}

	return NewStreamReader(resp.Body), nil
}

func (c *Client) newChatRequest(ctx context.Context, req ChatRequest) (*http.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &ClientError{Type: ErrTypeRequest, Message: "failed to marshal request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Type: ErrTypeRequest, Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

// =============================================================================
// HELPERS
// =============================================================================

// statusError converts a non-200 reply into a ClientError.
// 404 means the model is not installed on this server; 5xx is a server-side
// failure. Both are connection-class. Other statuses mean the request was rejected.
func statusError(resp *http.Response, prefix string) *ClientError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := prefix + ": " + resp.Status
	var ollamaErr OllamaError
	if err := json.Unmarshal(body, &ollamaErr); err == nil && ollamaErr.Error != "" {
		msg = prefix + ": " + ollamaErr.Error
	}

	errType := ErrTypeRequest
	switch {
	case resp.StatusCode == http.StatusNotFound:
		errType = ErrTypeModelNotFound
	case resp.StatusCode >= 500:
		errType = ErrTypeServer
	}

	return &ClientError{Type: errType, Status: resp.StatusCode, Message: msg}
}

// malformed builds the error for a 200 reply whose body is not the expected JSON.
func malformed(msg string, body []byte, cause error) *ClientError {
	return &ClientError{
		Type:    ErrTypeInvalidResponse,
		Status:  http.StatusOK,
		Message: msg,
		Snippet: util.Snippet(string(body), snippetRunes),
		Cause:   cause,
	}
}

// drainAndClose lets the transport reuse the connection.
func drainAndClose(r io.ReadCloser) {
	io.Copy(io.Discard, io.LimitReader(r, maxErrorBody))
	r.Close()
}
