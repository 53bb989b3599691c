// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package diff

import (
	"fmt"
	"strings"
)

// ContextLines is the number of unchanged lines kept around each change.
const ContextLines = 3

// =============================================================================
// TYPES
// =============================================================================

// Op is the kind of a diff line.
type Op int

const (
	OpEqual Op = iota
	OpInsert
	OpDelete
)

// String returns the op name.
func (o Op) String() string {
	switch o {
	case OpEqual:
		return "equal"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Prefix returns the unified-diff marker for the op.
func (o Op) Prefix() string {
	switch o {
	case OpInsert:
		return "+"
	case OpDelete:
		return "-"
	default:
		return " "
	}
}

// Line is one line of a diff.
type Line struct {
	Op   Op
	Text string

	// oldAt and newAt count the lines of each side consumed before this one.
	oldAt, newAt int
}

// Hunk is a run of changes with surrounding context.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []Line
}

// Result is the diff of two texts.
type Result struct {
	OldName, NewName string
	Hunks            []Hunk
	Added, Removed   int
}

// =============================================================================
// COMPUTATION
// =============================================================================

// Compute diffs oldText against newText line by line using a longest
// common subsequence. Deletions are listed before insertions at a change.
func Compute(oldName, newName, oldText, newText string) *Result {
	r := &Result{OldName: oldName, NewName: newName}
	lines := lineDiff(splitLines(oldText), splitLines(newText))
	for _, l := range lines {
		switch l.Op {
		case OpInsert:
			r.Added++
		case OpDelete:
			r.Removed++
		}
	}
	r.Hunks = hunks(lines)
	return r
}

// splitLines drops the empty element after a trailing newline.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func lineDiff(a, b []string) []Line {
	// lcs[i][j] is the LCS length of a[i:] and b[j:]
	lcs := make([][]int, len(a)+1)
	for i := range lcs {
		lcs[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	out := make([]Line, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) || j < len(b) {
		switch {
		case i < len(a) && j < len(b) && a[i] == b[j]:
			out = append(out, Line{Op: OpEqual, Text: a[i], oldAt: i, newAt: j})
			i++
			j++
		case j >= len(b) || (i < len(a) && lcs[i+1][j] >= lcs[i][j+1]):
			out = append(out, Line{Op: OpDelete, Text: a[i], oldAt: i, newAt: j})
			i++
		default:
			out = append(out, Line{Op: OpInsert, Text: b[j], oldAt: i, newAt: j})
			j++
		}
	}
	return out
}

// hunks groups changes separated by at most 2*ContextLines equal lines.
func hunks(lines []Line) []Hunk {
	var out []Hunk
	for start := 0; start < len(lines); {
		first := indexChange(lines, start)
		if first < 0 {
			break
		}
		last := first
		for next := indexChange(lines, last+1); next >= 0 && next-last-1 <= 2*ContextLines; next = indexChange(lines, last+1) {
			last = next
		}

		from := max(0, first-ContextLines)
		to := min(len(lines), last+1+ContextLines)
		out = append(out, newHunk(lines[from:to]))
		start = to
	}
	return out
}

func indexChange(lines []Line, from int) int {
	for i := from; i < len(lines); i++ {
		if lines[i].Op != OpEqual {
			return i
		}
	}
	return -1
}

func newHunk(lines []Line) Hunk {
	h := Hunk{Lines: lines}
	for _, l := range lines {
		if l.Op != OpInsert {
			h.OldCount++
		}
		if l.Op != OpDelete {
			h.NewCount++
		}
	}
	h.OldStart = lines[0].oldAt
	if h.OldCount > 0 {
		h.OldStart++
	}
	h.NewStart = lines[0].newAt
	if h.NewCount > 0 {
		h.NewStart++
	}
	return h
}

// =============================================================================
// FORMATTING
// =============================================================================

// Equal reports whether the texts have the same lines.
func (r *Result) Equal() bool {
	return r.Added == 0 && r.Removed == 0
}

// Unified renders the diff in unified format. Identical texts render empty.
func (r *Result) Unified() string {
	if r.Equal() {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "--- %s\n", r.OldName)
	fmt.Fprintf(&sb, "+++ %s\n", r.NewName)
	for _, h := range r.Hunks {
		sb.WriteString(h.Header())
		sb.WriteString("\n")
		for _, l := range h.Lines {
			sb.WriteString(l.Op.Prefix())
			sb.WriteString(l.Text)
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

// Header returns the "@@ -a,b +c,d @@" line.
func (h Hunk) Header() string {
	return fmt.Sprintf("@@ -%d,%d +%d,%d @@", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
}

// Summary returns "+N -M", or "identical".
func (r *Result) Summary() string {
	if r.Equal() {
		return "identical"
	}
	return fmt.Sprintf("+%d -%d", r.Added, r.Removed)
}
