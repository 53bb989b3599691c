// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/reviewgen/internal/history"
	"github.com/jeranaias/reviewgen/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter converts a report to one format.
type Exporter interface {
	Export(r *Report) ([]byte, error)

	// FileExtension returns the file extension, e.g. ".md".
	FileExtension() string

	MimeType() string
}

// Report is a recorded task with its attempts.
type Report struct {
	Task     history.TaskRecord      `json:"task"`
	Attempts []history.AttemptRecord `json:"attempts"`
}

// ErrEmptyReport is returned for a nil report or one without a task ID.
var ErrEmptyReport = errors.New("export: empty report")

func (r *Report) check() error {
	if r == nil || r.Task.ID == "" {
		return ErrEmptyReport
	}
	return nil
}

// returned is the attempt whose text the task returned, or nil.
func (r *Report) returned() *history.AttemptRecord {
	for i := range r.Attempts {
		if r.Attempts[i].Number == r.Task.BestAttempt {
			return &r.Attempts[i]
		}
	}
	return nil
}

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// IncludeMetadata adds front matter and the task summary.
	IncludeMetadata bool

	// IncludeAttempts appends the attempt log with issues.
	IncludeAttempts bool

	// IncludeAttemptText includes each attempt's full text in the log.
	IncludeAttemptText bool

	// Now stamps the export time.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata: true,
		IncludeAttempts: true,
		Now:             time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Formats lists the supported format names.
var Formats = []string{"markdown", "json", "html"}

// ForFormat returns the exporter for a format name ("md" is accepted for markdown).
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "markdown", "md":
		return NewMarkdownExporter(opts), nil
	case "json":
		return NewJSONExporter(opts), nil
	case "html":
		return NewHTMLExporter(opts), nil
	default:
		return nil, fmt.Errorf("unknown export format %q (want one of %s)", format, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ExportToFile writes the report to dir and returns the output path.
func ExportToFile(r *Report, exporter Exporter, dir string) (string, error) {
	content, err := exporter.Export(r)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	name := strings.TrimSuffix(r.Task.Name, filepath.Ext(r.Task.Name))
	filename := fmt.Sprintf("review_%s_%s%s", sanitizeFilename(name), shortID(r.Task.ID), exporter.FileExtension())
	path := filepath.Join(dir, filename)
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(strings.TrimSpace(s), 50)
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			b.WriteRune('_')
		default:
			if r < 32 {
				continue
			}
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "task"
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("January 2, 2006 at 3:04 PM")
}
