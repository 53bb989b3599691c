// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MarkdownExporter exports reports to Markdown.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// frontMatter is the YAML header of a Markdown export.
type frontMatter struct {
	Title       string `yaml:"title"`
	TaskID      string `yaml:"task_id"`
	State       string `yaml:"state"`
	Degraded    bool   `yaml:"degraded"`
	Attempts    int    `yaml:"attempts"`
	BestAttempt int    `yaml:"best_attempt,omitempty"`
	Model       string `yaml:"model,omitempty"`
	Tokens      int    `yaml:"tokens"`
	Created     string `yaml:"created"`
	Exported    string `yaml:"exported"`
	Generator   string `yaml:"generator"`
}

// Export converts a report to Markdown. The review text is written as is,
// so its own headers stay intact.
func (e *MarkdownExporter) Export(r *Report) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}

	var sb strings.Builder
	best := r.returned()

	if e.options.IncludeMetadata {
		fm := frontMatter{
			Title:       r.Task.Name,
			TaskID:      r.Task.ID,
			State:       string(r.Task.State),
			Degraded:    r.Task.Degraded,
			Attempts:    r.Task.Attempts,
			BestAttempt: r.Task.BestAttempt,
			Tokens:      r.Task.TotalTokens,
			Created:     r.Task.CreatedAt.Format(time.RFC3339),
			Exported:    e.options.now().Format(time.RFC3339),
			Generator:   "reviewgen",
		}
		if best != nil {
			fm.Model = best.Model
		}
		data, err := yaml.Marshal(fm)
		if err != nil {
			return nil, fmt.Errorf("front matter: %w", err)
		}
		sb.WriteString("---\n")
		sb.Write(data)
		sb.WriteString("---\n\n")
	}

	if r.Task.Degraded {
		sb.WriteString("> **Note:** this review did not pass validation; the best of ")
		sb.WriteString(fmt.Sprintf("%d attempts is shown.\n\n", r.Task.Attempts))
	}
	if r.Task.Error != "" {
		sb.WriteString(fmt.Sprintf("> **Error:** %s\n\n", escapeMarkdown(r.Task.Error)))
	}

	text := strings.TrimRight(r.Task.Text, "\n")
	if text != "" {
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	if e.options.IncludeAttempts && len(r.Attempts) > 0 {
		sb.WriteString("\n---\n\n")
		sb.WriteString("## Attempt Log\n\n")
		sb.WriteString("| # | Model | Verdict | Tokens | Elapsed | Issues |\n")
		sb.WriteString("|---|---|---|---|---|---|\n")
		for _, a := range r.Attempts {
			verdict := "passed"
			if !a.Passed {
				verdict = "failed"
			}
			sb.WriteString(fmt.Sprintf("| %d | %s | %s | %d | %.1fs | %d |\n",
				a.Number, escapeMarkdown(a.Model), verdict, a.Tokens, a.ElapsedSeconds, len(a.Issues)))
		}

		for _, a := range r.Attempts {
			if len(a.Issues) == 0 && !e.options.IncludeAttemptText {
				continue
			}
			sb.WriteString(fmt.Sprintf("\n### Attempt %d\n\n", a.Number))
			for _, i := range a.Issues {
				sb.WriteString(fmt.Sprintf("- **%s** (%s): %s\n", i.Category, i.Severity, escapeMarkdown(i.Message)))
			}
			if e.options.IncludeAttemptText {
				sb.WriteString("\n```text\n")
				sb.WriteString(strings.ReplaceAll(strings.TrimRight(a.Text, "\n"), "```", "'''"))
				sb.WriteString("\n```\n")
			}
		}
	}

	if e.options.IncludeMetadata {
		sb.WriteString(fmt.Sprintf("\n*Exported from reviewgen on %s*\n", formatTimestamp(e.options.now())))
	}
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// escapeMarkdown escapes characters that break inline Markdown and tables.
func escapeMarkdown(s string) string {
	replacer := strings.NewReplacer(
		"|", "\\|",
		"*", "\\*",
		"_", "\\_",
		"`", "\\`",
		"\n", " ",
	)
	return replacer.Replace(s)
}
