// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"strings"
	"unicode/utf8"
)

// SectionResult is the completeness verdict for one declared section.
type SectionResult struct {
	Header    string
	Present   bool
	BodyChars int
	MinChars  int
	Passed    bool
}

// CheckSections checks each declared section for presence and a body of at
// least MinChars runes. An empty body always fails. When a header repeats,
// the first occurrence is judged.
func CheckSections(text string, specs []SectionSpec) []SectionResult {
	sections := splitSections(text)
	pos := headerPositions(sections)

	results := make([]SectionResult, 0, len(specs))
	for _, spec := range specs {
		r := SectionResult{Header: spec.Header, MinChars: spec.MinChars}
		if found, ok := pos[normalizeHeader(spec.Header)]; ok {
			r.Present = true
			r.BodyChars = utf8.RuneCountInString(strings.TrimSpace(sections[found[0]].body))
			r.Passed = r.BodyChars > 0 && r.BodyChars >= spec.MinChars
		}
		results = append(results, r)
	}
	return results
}

// StructureIssues converts failing section results into issues. Missing
// sections are left to CheckFormat when they are also required headers.
func StructureIssues(results []SectionResult) []Issue {
	var issues []Issue
	for _, r := range results {
		switch {
		case r.Passed:
		case !r.Present:
			issues = append(issues, errorIssue(CategoryStructure, CodeMissing, r.Header, "section %q is missing", r.Header))
		case r.BodyChars == 0:
			issues = append(issues, errorIssue(CategoryStructure, CodeEmpty, r.Header, "section %q is empty", r.Header))
		default:
			issues = append(issues, errorIssue(CategoryStructure, CodeShort, r.Header,
				"section %q is too short (%d chars, need %d)", r.Header, r.BodyChars, r.MinChars))
		}
	}
	return issues
}
