// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"strings"
	"unicode"
)

// section is a header line and the text up to the next header.
type section struct {
	header string // raw header line, empty for the preamble
	body   string
}

// isHeaderLine reports whether line is shaped like a heading: markdown
// "#" headings or a line that is entirely bold.
func isHeaderLine(line string) bool {
	t := strings.TrimSpace(line)
	if strings.HasPrefix(t, "#") {
		return true
	}
	return len(t) > 4 && strings.HasPrefix(t, "**") && strings.HasSuffix(strings.TrimSuffix(t, ":"), "**")
}

// normalizeHeader strips heading markup, numbering and a trailing colon,
// then lowercases.
func normalizeHeader(h string) string {
	t := strings.TrimSpace(h)
	t = strings.TrimLeft(t, "#")
	t = strings.TrimSpace(t)
	t = strings.TrimSuffix(t, ":")
	t = strings.Trim(t, "*_ ")
	t = strings.TrimSuffix(t, ":")
	t = strings.TrimLeftFunc(t, func(r rune) bool { return unicode.IsDigit(r) || r == '.' || r == ')' })
	return strings.ToLower(strings.Join(strings.Fields(t), " "))
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// splitSections cuts text at header lines.
func splitSections(text string) []section {
	var out []section
	cur := section{}
	var body []string

	for _, line := range strings.Split(text, "\n") {
		if isHeaderLine(line) {
			cur.body = strings.Join(body, "\n")
			if cur.header != "" || strings.TrimSpace(cur.body) != "" {
				out = append(out, cur)
			}
			cur = section{header: strings.TrimSpace(line)}
			body = nil
			continue
		}
		body = append(body, line)
	}
	cur.body = strings.Join(body, "\n")
	if cur.header != "" || strings.TrimSpace(cur.body) != "" {
		out = append(out, cur)
	}
	return out
}

// headerPositions maps each normalized header to the indexes of the
// sections carrying it.
func headerPositions(sections []section) map[string][]int {
	pos := make(map[string][]int)
	for i, s := range sections {
		if s.header == "" {
			continue
		}
		key := normalizeHeader(s.header)
		pos[key] = append(pos[key], i)
	}
	return pos
}

// CheckFormat reports each missing required header and, when ordered, each
// header that appears before one declared ahead of it. Repeated headers are
// warnings.
func CheckFormat(text string, headers []string, ordered bool) []Issue {
	pos := headerPositions(splitSections(text))

	var issues []Issue
	lastPos := -1
	lastHeader := ""
	for _, h := range headers {
		key := normalizeHeader(h)
		found, ok := pos[key]
		if !ok {
			issues = append(issues, errorIssue(CategoryFormat, CodeMissing, h, "missing required section %q", h))
			continue
		}

		if len(found) > 1 {
			issues = append(issues, warningIssue(CategoryFormat, CodeDuplicate, h, "section %q appears %d times", h, len(found)))
		}

		if ordered {
			if found[0] < lastPos {
				issues = append(issues, errorIssue(CategoryFormat, CodeOutOfOrder, h, "section %q is out of order (expected after %q)", h, lastHeader))
				continue
			}
			lastPos = found[0]
			lastHeader = h
		}
	}
	return issues
}

// MissingHeaders returns the required headers absent from text.
func MissingHeaders(text string, headers []string) []string {
	pos := headerPositions(splitSections(text))
	var missing []string
	for _, h := range headers {
		if _, ok := pos[normalizeHeader(h)]; !ok {
			missing = append(missing, h)
		}
	}
	return missing
}
