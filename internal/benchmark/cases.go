// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package benchmark

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Case is one benchmark prompt.
type Case struct {
	Name   string
	Prompt string
}

// DefaultCases returns the built-in review prompts.
func DefaultCases() []Case {
	return []Case{
		{
			Name: "memo-review",
			Prompt: `Review the following memo and respond with the sections "## Summary",
"## Findings" and "## Recommendations", in that order.

MEMO: The quarterly maintenance report is due on the 15th. Section 2 references
the 2019 edition of the inspection checklist. Two work orders have no assigned owner.
The appendix lists the same tool inventory twice.`,
		},
		{
			Name: "policy-review",
			Prompt: `Review the draft policy below for compliance gaps. Respond with the sections
"## Summary", "## Findings" and "## Recommendations", in that order.

POLICY: All personnel shall complete annual training. Records are retained for one
year. Exceptions are approved verbally by the section lead. No review cycle is defined.`,
		},
	}
}

// LoadCases reads one case per file. The case name is the file name.
func LoadCases(paths []string) ([]Case, error) {
	cases := make([]Case, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("load case: %w", err)
		}
		prompt := strings.TrimSpace(string(data))
		if prompt == "" {
			return nil, fmt.Errorf("load case %s: empty prompt", p)
		}
		cases = append(cases, Case{Name: filepath.Base(p), Prompt: prompt})
	}
	return cases, nil
}
