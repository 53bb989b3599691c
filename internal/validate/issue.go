// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import "fmt"

// Category groups issues by the kind of corrective instruction they need.
type Category string

const (
	CategoryOffTopic   Category = "off_topic"
	CategoryFormat     Category = "format"
	CategoryRepetition Category = "repetition"
	CategoryStructure  Category = "structure"
)

// Severity of an issue. Only errors fail validation.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one finding about a piece of text.
type Issue struct {
	Category Category
	Severity Severity
	Message  string

	// Code narrows the category: "missing", "out_of_order", "duplicate",
	// "empty", "short". Empty for single-kind categories.
	Code string

	// Subject is the header or section the issue is about, if any.
	Subject string
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s/%s] %s", i.Category, i.Severity, i.Message)
}

// Issue codes.
const (
	CodeMissing    = "missing"
	CodeOutOfOrder = "out_of_order"
	CodeDuplicate  = "duplicate"
	CodeEmpty      = "empty"
	CodeShort      = "short"
)

func errorIssue(cat Category, code, subject, format string, args ...any) Issue {
	return Issue{Category: cat, Severity: SeverityError, Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)}
}

func warningIssue(cat Category, code, subject, format string, args ...any) Issue {
	return Issue{Category: cat, Severity: SeverityWarning, Code: code, Subject: subject, Message: fmt.Sprintf(format, args...)}
}
