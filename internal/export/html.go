// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// =============================================================================
// HTML EXPORTER
// =============================================================================

// HTMLExporter exports reports to a standalone HTML page with embedded CSS.
type HTMLExporter struct {
	options *Options
}

// NewHTMLExporter creates a new HTML exporter.
func NewHTMLExporter(opts *Options) *HTMLExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &HTMLExporter{options: opts}
}

// Export converts a report to HTML.
func (e *HTMLExporter) Export(r *Report) ([]byte, error) {
	if err := r.check(); err != nil {
		return nil, err
	}

	var sb strings.Builder

	sb.WriteString("<!DOCTYPE html>\n")
	sb.WriteString("<html lang=\"en\">\n")
	sb.WriteString("<head>\n")
	sb.WriteString("    <meta charset=\"UTF-8\">\n")
	sb.WriteString(fmt.Sprintf("    <title>%s</title>\n", html.EscapeString(r.Task.Name)))
	sb.WriteString("    <meta name=\"generator\" content=\"reviewgen\">\n")
	sb.WriteString(fmt.Sprintf("    <meta name=\"date\" content=\"%s\">\n", r.Task.CreatedAt.Format(time.RFC3339)))
	sb.WriteString(css)
	sb.WriteString("</head>\n")
	sb.WriteString("<body>\n")
	sb.WriteString("    <div class=\"container\">\n")

	if e.options.IncludeMetadata {
		sb.WriteString(e.renderHeader(r))
	}

	sb.WriteString("        <main class=\"review\">\n")
	if r.Task.Degraded {
		sb.WriteString(fmt.Sprintf("            <p class=\"notice\">This review did not pass validation; the best of %d attempts is shown.</p>\n", r.Task.Attempts))
	}
	if r.Task.Error != "" {
		sb.WriteString(fmt.Sprintf("            <p class=\"error\">%s</p>\n", html.EscapeString(r.Task.Error)))
	}
	sb.WriteString(renderText(r.Task.Text))
	sb.WriteString("        </main>\n")

	if e.options.IncludeAttempts && len(r.Attempts) > 0 {
		sb.WriteString(e.renderAttempts(r))
	}

	sb.WriteString("        <footer class=\"footer\">\n")
	sb.WriteString(fmt.Sprintf("            <p>Exported from <strong>reviewgen</strong> on %s</p>\n",
		formatTimestamp(e.options.now())))
	sb.WriteString("        </footer>\n")
	sb.WriteString("    </div>\n")
	sb.WriteString("</body>\n")
	sb.WriteString("</html>\n")

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for HTML.
func (e *HTMLExporter) FileExtension() string {
	return ".html"
}

// MimeType returns the MIME type for HTML.
func (e *HTMLExporter) MimeType() string {
	return "text/html"
}

// =============================================================================
// RENDERING FUNCTIONS
// =============================================================================

func (e *HTMLExporter) renderHeader(r *Report) string {
	var sb strings.Builder
	sb.WriteString("        <header class=\"header\">\n")
	sb.WriteString(fmt.Sprintf("            <h1>%s</h1>\n", html.EscapeString(r.Task.Name)))
	sb.WriteString("            <div class=\"metadata\">\n")
	sb.WriteString(fmt.Sprintf("                <span class=\"state %s\">%s</span>\n", html.EscapeString(string(r.Task.State)), html.EscapeString(string(r.Task.State))))
	if best := r.returned(); best != nil {
		sb.WriteString(fmt.Sprintf("                <span><strong>Model:</strong> %s</span>\n", html.EscapeString(best.Model)))
	}
	sb.WriteString(fmt.Sprintf("                <span><strong>Attempts:</strong> %d</span>\n", r.Task.Attempts))
	sb.WriteString(fmt.Sprintf("                <span><strong>Tokens:</strong> %d</span>\n", r.Task.TotalTokens))
	sb.WriteString(fmt.Sprintf("                <span><strong>Created:</strong> %s</span>\n", formatTimestamp(r.Task.CreatedAt)))
	sb.WriteString("            </div>\n")
	sb.WriteString("        </header>\n")
	return sb.String()
}

func (e *HTMLExporter) renderAttempts(r *Report) string {
	var sb strings.Builder
	sb.WriteString("        <section class=\"attempts\">\n")
	sb.WriteString("            <h2>Attempt Log</h2>\n")
	for _, a := range r.Attempts {
		verdict := "passed"
		if !a.Passed {
			verdict = "failed"
		}
		sb.WriteString(fmt.Sprintf("            <details%s>\n", map[bool]string{true: " open", false: ""}[!a.Passed]))
		sb.WriteString(fmt.Sprintf("                <summary>Attempt %d <span class=\"state %s\">%s</span> %s, %d tokens, %.1fs</summary>\n",
			a.Number, verdict, verdict, html.EscapeString(a.Model), a.Tokens, a.ElapsedSeconds))
		if len(a.Issues) > 0 {
			sb.WriteString("                <ul>\n")
			for _, i := range a.Issues {
				sb.WriteString(fmt.Sprintf("                    <li><strong>%s</strong> (%s): %s</li>\n",
					html.EscapeString(i.Category), html.EscapeString(i.Severity), html.EscapeString(i.Message)))
			}
			sb.WriteString("                </ul>\n")
		}
		if e.options.IncludeAttemptText {
			sb.WriteString(fmt.Sprintf("                <pre>%s</pre>\n", html.EscapeString(a.Text)))
		}
		sb.WriteString("            </details>\n")
	}
	sb.WriteString("        </section>\n")
	return sb.String()
}

// renderText turns review Markdown into headings and paragraphs. Only
// "#" headers and blank-line paragraphs are interpreted.
func renderText(text string) string {
	var sb strings.Builder
	var para []string
	flush := func() {
		if len(para) > 0 {
			sb.WriteString(fmt.Sprintf("            <p>%s</p>\n", html.EscapeString(strings.Join(para, " "))))
			para = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			flush()
		case strings.HasPrefix(trimmed, "#"):
			flush()
			level := len(trimmed) - len(strings.TrimLeft(trimmed, "#"))
			if level > 6 {
				level = 6
			}
			if level < 2 {
				level = 2
			}
			heading := strings.TrimSpace(strings.TrimLeft(trimmed, "#"))
			sb.WriteString(fmt.Sprintf("            <h%d>%s</h%d>\n", level, html.EscapeString(heading), level))
		default:
			para = append(para, trimmed)
		}
	}
	flush()
	return sb.String()
}

const css = `    <style>
        body { margin: 0; background: #1a1b26; color: #c0caf5;
               font-family: -apple-system, "Segoe UI", Roboto, Arial, sans-serif; line-height: 1.6; }
        .container { max-width: 860px; margin: 0 auto; padding: 2rem; }
        .header { border-bottom: 1px solid #414868; margin-bottom: 1.5rem; }
        .metadata span { margin-right: 1rem; color: #a9b1d6; }
        .state { padding: 0 .4rem; border-radius: 4px; font-weight: bold; }
        .accepted, .passed { color: #9ece6a; }
        .degraded { color: #e0af68; }
        .failed { color: #f7768e; }
        .notice { border-left: 3px solid #e0af68; padding-left: .75rem; }
        .error { border-left: 3px solid #f7768e; padding-left: .75rem; }
        .attempts { margin-top: 2rem; border-top: 1px solid #414868; }
        details { margin: .5rem 0; }
        pre { background: #24283b; padding: 1rem; white-space: pre-wrap; font-family: monospace; }
        .footer { margin-top: 2rem; color: #565f89; font-size: .85rem; }
    </style>
`
