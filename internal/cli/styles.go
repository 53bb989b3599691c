// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/util"
)

var (
	okStyle     = color.New(color.FgGreen, color.Bold).SprintFunc()
	warnStyle   = color.New(color.FgYellow, color.Bold).SprintFunc()
	failStyle   = color.New(color.FgRed, color.Bold).SprintFunc()
	headerStyle = color.New(color.FgCyan, color.Bold).SprintFunc()
	dimStyle    = color.New(color.Faint).SprintFunc()
)

// stateStyle picks the color for a task state.
func stateStyle(s review.State) func(...interface{}) string {
	switch s {
	case review.StateAccepted:
		return okStyle
	case review.StateDegraded:
		return warnStyle
	case review.StateFailed:
		return failStyle
	default:
		return fmt.Sprint
	}
}

func stateLabel(s review.State) string {
	return stateStyle(s)(string(s))
}

func displayWidth(s string) int {
	return runewidth.StringWidth(s)
}

// table writes aligned columns. Widths are display widths, so CJK task
// names line up.
type table struct {
	headers []string
	rows    [][]string
	max     int // maximum column width

	// stateCol, when >= 0, is colored by its review.State value
	stateCol int
}

func newTable(headers ...string) *table {
	return &table{headers: headers, max: 40, stateCol: -1}
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) render(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = displayWidth(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) {
				if n := displayWidth(cell); n > widths[i] {
					widths[i] = n
				}
			}
		}
	}
	for i := range widths {
		if widths[i] > t.max {
			widths[i] = t.max
		}
	}

	// padding happens before coloring so escape codes do not count as width
	line := func(cells []string, header bool) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			if i >= len(widths) {
				break
			}
			if i == len(cells)-1 {
				parts[i] = util.TruncateWidth(cell, widths[i])
			} else {
				parts[i] = util.PadRight(cell, widths[i])
			}
			switch {
			case header:
				parts[i] = headerStyle(parts[i])
			case i == t.stateCol:
				parts[i] = stateStyle(review.State(cell))(parts[i])
			}
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(parts, "  "), " "))
	}

	line(t.headers, true)
	for _, row := range t.rows {
		line(row, false)
	}
}
