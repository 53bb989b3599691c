// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jeranaias/reviewgen/internal/review"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// summarize prints one row per result and the issues of non-accepted ones.
func summarize(w io.Writer, results []*review.Result) {
	t := newTable("TASK", "STATE", "ATTEMPTS", "TOKENS", "ISSUES")
	t.stateCol = 1
	for _, r := range results {
		issues := "-"
		if best := r.BestAttempt(); best != nil && best.Report.Score() > 0 {
			issues = fmt.Sprint(best.Report.Score())
		}
		t.add(r.TaskName, string(r.State), fmt.Sprint(len(r.Attempts)), fmt.Sprint(r.TotalTokens()), issues)
	}
	t.render(w)

	for _, r := range results {
		switch r.State {
		case review.StateFailed:
			fmt.Fprintf(w, "\n%s %s: %v\n", failStyle("failed"), r.TaskName, r.Err)
		case review.StateDegraded:
			best := r.BestAttempt()
			fmt.Fprintf(w, "\n%s %s (attempt %d returned)\n", warnStyle("degraded"), r.TaskName, best.Number)
			for _, i := range best.Report.Issues {
				fmt.Fprintf(w, "  %s %s\n", dimStyle("["+string(i.Category)+"]"), i.Message)
			}
		}
	}
}

// exitCode maps results to a process exit code.
func exitCode(results []*review.Result) int {
	code := ExitOK
	for _, r := range results {
		switch r.State {
		case review.StateFailed:
			return ExitError
		case review.StateDegraded:
			code = ExitDegraded
		}
	}
	return code
}

func outputName(taskName string) string {
	base := strings.TrimSuffix(taskName, extOf(taskName))
	return base + ".review.md"
}

func extOf(name string) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return name[i:]
	}
	return ""
}
