// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import (
	"strings"

	"github.com/jeranaias/reviewgen/internal/validate"
)

const (
	offTopicNotice = "IMPORTANT: Your previous response was off-topic. Respond only with the requested review content. " +
		"Do not greet, apologize, refuse, or add conversational remarks."
	repetitionNotice = "IMPORTANT: Your previous response repeated itself. State each point once and do not repeat sentences or sections."
)

// Reinforce prepends one corrective notice per failed category to the
// original prompt. Notices come from the latest report only, so prompts do
// not grow across attempts.
func Reinforce(original string, report validate.Report, profile *validate.Profile) string {
	var notices []string

	if report.Has(validate.CategoryOffTopic) {
		notices = append(notices, offTopicNotice)
	}
	if report.Has(validate.CategoryFormat) {
		notices = append(notices, formatNotice(report, profile))
	}
	if report.Has(validate.CategoryRepetition) {
		notices = append(notices, repetitionNotice)
	}
	if report.Has(validate.CategoryStructure) {
		notices = append(notices, "IMPORTANT: These sections were empty or too short: "+
			strings.Join(report.ShortSections(), ", ")+". Give each section substantive content.")
	}

	if len(notices) == 0 {
		return original
	}
	return strings.Join(notices, "\n") + "\n\n" + original
}

func formatNotice(report validate.Report, profile *validate.Profile) string {
	var b strings.Builder
	b.WriteString("IMPORTANT: Your previous response did not follow the required format.")
	if profile != nil && len(profile.RequiredHeaders) > 0 {
		b.WriteString(" Include every one of these section headers")
		if profile.Ordered {
			b.WriteString(", in this order")
		}
		b.WriteString(": ")
		b.WriteString(strings.Join(profile.RequiredHeaders, ", "))
		b.WriteString(".")
	}
	if missing := report.Missing(); len(missing) > 0 {
		b.WriteString(" Missing: ")
		b.WriteString(strings.Join(missing, ", "))
		b.WriteString(".")
	}
	return b.String()
}
