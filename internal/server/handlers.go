// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jeranaias/reviewgen/internal/export"
	"github.com/jeranaias/reviewgen/internal/history"
	"github.com/jeranaias/reviewgen/internal/review"
)

// ============================================================================
// REVIEW
// ============================================================================

// ReviewRequest is the body of POST /v1/review.
type ReviewRequest struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`

	// Model overrides the default model for this task.
	Model string `json:"model,omitempty"`

	// MaxAttempts overrides the configured attempt budget (1..10).
	MaxAttempts int `json:"max_attempts,omitempty"`

	// Stream returns NDJSON events instead of one JSON body.
	Stream bool `json:"stream,omitempty"`
}

// StreamEvent is one NDJSON line of a streamed review. Fragments carry
// the attempt they belong to; the last line has type "result".
type StreamEvent struct {
	Type    string             `json:"type"`
	Attempt int                `json:"attempt,omitempty"`
	Text    string             `json:"text,omitempty"`
	Result  *review.TaskOutput `json:"result,omitempty"`
}

func (s *Server) handleReview(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)

	var req ReviewRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxBodyBytes))
			return
		}
		s.log.WithError(err).Debug("Invalid review request body")
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		s.writeError(w, http.StatusBadRequest, "prompt must not be empty")
		return
	}
	if req.MaxAttempts < 0 || req.MaxAttempts > MaxAttemptsLimit {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("max_attempts must be between 1 and %d", MaxAttemptsLimit))
		return
	}
	if req.Name == "" {
		req.Name = "request"
	}

	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-r.Context().Done():
		return
	}

	cfg := s.cfg.Review
	if req.MaxAttempts > 0 {
		cfg.MaxAttempts = req.MaxAttempts
	}
	task := review.Task{Name: req.Name, Prompt: req.Prompt, Model: req.Model, ResetContext: true}

	if req.Stream {
		s.streamReview(r.Context(), w, cfg, task)
		return
	}

	result, _ := s.orchestrator(cfg).Run(r.Context(), task)
	s.stats.record(result)

	out := review.NewTaskOutput(result)
	w.Header().Set("X-Review-State", string(result.State))
	status := http.StatusOK
	if result.State == review.StateFailed {
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, out)
}

func (s *Server) streamReview(ctx context.Context, w http.ResponseWriter, cfg review.Config, task review.Task) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	emit := func(ev StreamEvent) {
		if err := enc.Encode(ev); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	cfg.Stream = true
	cfg.OnFragment = func(_ review.Task, attempt int, fragment string) {
		emit(StreamEvent{Type: "fragment", Attempt: attempt, Text: fragment})
	}
	result, _ := s.orchestrator(cfg).Run(ctx, task)
	s.stats.record(result)

	out := review.NewTaskOutput(result)
	emit(StreamEvent{Type: "result", Result: &out})
}

func (s *Server) orchestrator(cfg review.Config) *review.Orchestrator {
	opts := []review.Option{review.WithLogger(s.log)}
	if s.store != nil {
		opts = append(opts, review.WithRecorder(s.store))
	}
	return review.New(s.client, s.validator, cfg, opts...)
}

// ============================================================================
// MODELS
// ============================================================================

// ModelsResponse is the body of GET /v1/models.
type ModelsResponse struct {
	Default   string   `json:"default"`
	Fallbacks []string `json:"fallbacks"`
	Installed []string `json:"installed"`
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	cfg := s.client.Config()
	fallbacks := cfg.FallbackModels
	if fallbacks == nil {
		fallbacks = []string{}
	}
	s.writeJSON(w, http.StatusOK, ModelsResponse{
		Default:   cfg.DefaultModel,
		Fallbacks: fallbacks,
		Installed: s.client.AvailableModels(r.Context()),
	})
}

// ============================================================================
// HISTORY
// ============================================================================

// TaskSummary is one row of GET /v1/history.
type TaskSummary struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	State       review.State `json:"state"`
	Degraded    bool         `json:"degraded"`
	Attempts    int          `json:"attempts"`
	TotalTokens int          `json:"total_tokens"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

func (s *Server) handleHistoryList(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxHistoryLimit {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit))
			return
		}
		limit = n
	}

	tasks, err := s.store.Recent(r.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Listing history failed")
		s.writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	out := make([]TaskSummary, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TaskSummary{
			ID:          t.ID,
			Name:        t.Name,
			State:       t.State,
			Degraded:    t.Degraded,
			Attempts:    t.Attempts,
			TotalTokens: t.TotalTokens,
			UpdatedAt:   t.UpdatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHistoryGet(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusNotFound, "history is disabled")
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	exp, err := export.ForFormat(format, nil)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := s.log.WithFields(logrus.Fields{"task_id": r.PathValue("id")})
	task, err := s.store.Task(r.Context(), r.PathValue("id"))
	if errors.Is(err, history.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		log.WithError(err).Error("Loading task failed")
		s.writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	attempts, err := s.store.Attempts(r.Context(), task.ID)
	if err != nil {
		log.WithError(err).Error("Loading attempts failed")
		s.writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}

	data, err := exp.Export(&export.Report{Task: *task, Attempts: attempts})
	if err != nil {
		log.WithError(err).Error("Export failed")
		s.writeError(w, http.StatusInternalServerError, "export failed")
		return
	}
	w.Header().Set("Content-Type", exp.MimeType()+"; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ============================================================================
// HEALTH AND STATS
// ============================================================================

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Ollama  string `json:"ollama"`
	Busy    bool   `json:"busy"`
	History bool   `json:"history"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	health := HealthResponse{
		Status:  "ok",
		Version: Version,
		Ollama:  "ok",
		Busy:    len(s.sem) > 0,
		History: s.store != nil,
	}
	if !s.client.CheckConnection(ctx) {
		health.Ollama = "unavailable"
		health.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.Snapshot())
}
