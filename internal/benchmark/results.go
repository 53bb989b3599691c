// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package benchmark

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/reviewgen/internal/util"
	"github.com/jeranaias/reviewgen/internal/validate"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Status is the outcome of a case.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// CaseResult is one case on one model.
type CaseResult struct {
	Name             string              `json:"name"`
	Model            string              `json:"model"`
	Status           Status              `json:"status"`
	StartTime        time.Time           `json:"start_time"`
	Duration         time.Duration       `json:"duration"`
	TTFT             time.Duration       `json:"ttft"` // time to first token
	CompletionTokens int                 `json:"completion_tokens"`
	TokensPerSec     float64             `json:"tokens_per_sec"`
	Passed           bool                `json:"passed"` // cleared validation
	Issues           int                 `json:"issues"`
	Categories       []validate.Category `json:"categories,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// Result aggregates every case of one model.
type Result struct {
	Model           string        `json:"model"`
	StartTime       time.Time     `json:"start_time"`
	Duration        time.Duration `json:"duration"`
	Cases           []CaseResult  `json:"cases"`
	AvgTTFT         time.Duration `json:"avg_ttft"`
	AvgTokensPerSec float64       `json:"avg_tokens_per_sec"`
	Completed       int           `json:"completed"`
	Failed          int           `json:"failed"`
	Passed          int           `json:"passed"`
}

// PassRate is the share of completed cases that cleared validation.
func (r *Result) PassRate() float64 {
	if r.Completed == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Completed)
}

func (r *Result) finish() {
	r.Duration = time.Since(r.StartTime)
	r.AvgTTFT, r.AvgTokensPerSec = 0, 0
	r.Completed, r.Failed, r.Passed = 0, 0, 0

	var totalTTFT time.Duration
	var totalTPS float64
	var ttftCount, tpsCount int
	for _, c := range r.Cases {
		if c.Status != StatusCompleted {
			r.Failed++
			continue
		}
		r.Completed++
		if c.Passed {
			r.Passed++
		}
		if c.TTFT > 0 {
			totalTTFT += c.TTFT
			ttftCount++
		}
		if c.TokensPerSec > 0 {
			totalTPS += c.TokensPerSec
			tpsCount++
		}
	}
	if ttftCount > 0 {
		r.AvgTTFT = totalTTFT / time.Duration(ttftCount)
	}
	if tpsCount > 0 {
		r.AvgTokensPerSec = totalTPS / float64(tpsCount)
	}
}

// Comparison holds results from comparing multiple models.
type Comparison struct {
	Models    []string           `json:"models"`
	Results   map[string]*Result `json:"results"`
	StartTime time.Time          `json:"start_time"`
	Duration  time.Duration      `json:"duration"`
}

func (c *Comparison) finish() {
	c.Duration = time.Since(c.StartTime)
}

// =============================================================================
// RESULT ANALYSIS
// =============================================================================

// Ranked returns results ordered by pass rate, then speed, then latency.
// Models with no completed case come last, in input order.
func (c *Comparison) Ranked() []*Result {
	out := make([]*Result, 0, len(c.Models))
	for _, m := range c.Models {
		if r, ok := c.Results[m]; ok && r != nil {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if (a.Completed > 0) != (b.Completed > 0) {
			return a.Completed > 0
		}
		if a.PassRate() != b.PassRate() {
			return a.PassRate() > b.PassRate()
		}
		if a.AvgTokensPerSec != b.AvgTokensPerSec {
			return a.AvgTokensPerSec > b.AvgTokensPerSec
		}
		return a.AvgTTFT < b.AvgTTFT
	})
	return out
}

// BestModel returns the top-ranked model, or false when none completed a case.
func (c *Comparison) BestModel() (*Result, bool) {
	ranked := c.Ranked()
	if len(ranked) == 0 || ranked[0].Completed == 0 {
		return nil, false
	}
	return ranked[0], true
}

// FallbackOrder returns completed models in ranked order, suitable for
// endpoint.default_model followed by endpoint.fallback_models.
func (c *Comparison) FallbackOrder() []string {
	var order []string
	for _, r := range c.Ranked() {
		if r.Completed > 0 {
			order = append(order, r.Model)
		}
	}
	return order
}

// =============================================================================
// RESULT STORAGE
// =============================================================================

// Storage saves comparisons as JSON files in a directory.
type Storage struct {
	dir string
}

// NewStorage uses dir, creating it if needed.
func NewStorage(dir string) (*Storage, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create benchmark directory: %w", err)
	}
	return &Storage{dir: dir}, nil
}

// Save writes a comparison and returns its path.
func (s *Storage) Save(c *Comparison) (string, error) {
	filename := fmt.Sprintf("comparison_%s.json", c.StartTime.Format("20060102-150405.000"))
	path := filepath.Join(s.dir, filename)

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal comparison: %w", err)
	}
	if err := util.AtomicWriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write comparison: %w", err)
	}
	return path, nil
}

// Load reads a comparison by file name.
func (s *Storage) Load(filename string) (*Comparison, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read comparison: %w", err)
	}
	var c Comparison
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal comparison: %w", err)
	}
	return &c, nil
}

// List returns saved comparison files, newest first. File names carry the
// start time, so name order is time order.
func (s *Storage) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "comparison_") && filepath.Ext(e.Name()) == ".json" {
			files = append(files, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// Latest loads the newest saved comparison.
func (s *Storage) Latest() (*Comparison, error) {
	files, err := s.List()
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no benchmark results in %s", s.dir)
	}
	return s.Load(files[0])
}
