// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

// Report is the combined result of every check.
type Report struct {
	Issues     []Issue
	Sections   []SectionResult
	Repetition RepetitionReport
}

// Passed reports whether no error-severity issue was found.
func (r Report) Passed() bool {
	for _, i := range r.Issues {
		if i.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Score is the number of issues; lower is better.
func (r Report) Score() int {
	return len(r.Issues)
}

// Has reports whether any error-severity issue falls in cat.
func (r Report) Has(cat Category) bool {
	for _, i := range r.Issues {
		if i.Category == cat && i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Categories returns the distinct categories with errors, in check order.
func (r Report) Categories() []Category {
	var out []Category
	for _, cat := range []Category{CategoryOffTopic, CategoryFormat, CategoryRepetition, CategoryStructure} {
		if r.Has(cat) {
			out = append(out, cat)
		}
	}
	return out
}

// Missing returns the subjects of missing-header format issues.
func (r Report) Missing() []string {
	var out []string
	for _, i := range r.Issues {
		if i.Category == CategoryFormat && i.Severity == SeverityError && i.Code == CodeMissing {
			out = append(out, i.Subject)
		}
	}
	return out
}

// ShortSections returns the subjects of structure issues.
func (r Report) ShortSections() []string {
	var out []string
	for _, i := range r.Issues {
		if i.Category == CategoryStructure {
			out = append(out, i.Subject)
		}
	}
	return out
}

// Validator runs the full check suite under one profile.
type Validator struct {
	Profile *Profile
}

// New returns a validator; nil means DefaultProfile.
func New(p *Profile) *Validator {
	if p == nil {
		p = DefaultProfile()
	}
	return &Validator{Profile: p}
}

// Validate runs off-topic, format, repetition and structure checks in that
// order. Structure issues are not repeated for sections already reported
// missing by the format check.
func (v *Validator) Validate(text string) Report {
	p := v.Profile
	if p == nil {
		p = DefaultProfile()
	}

	var r Report
	r.Issues = append(r.Issues, CheckOffTopic(text, p)...)

	format := CheckFormat(text, p.RequiredHeaders, p.Ordered)
	r.Issues = append(r.Issues, format...)

	r.Repetition = Repetition(text, p.threshold(), p.minSentences())
	r.Issues = append(r.Issues, CheckRepetition(text, p)...)

	r.Sections = CheckSections(text, p.Sections)
	missing := make(map[string]bool)
	for _, h := range MissingHeaders(text, p.RequiredHeaders) {
		missing[normalizeHeader(h)] = true
	}
	for _, issue := range StructureIssues(r.Sections) {
		if missing[normalizeHeader(issue.Subject)] {
			continue
		}
		r.Issues = append(r.Issues, issue)
	}
	return r
}
