// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package review

import "github.com/jeranaias/reviewgen/internal/validate"

// TaskOutput is the JSON form of a review result.
type TaskOutput struct {
	TaskID      string          `json:"task_id"`
	Name        string          `json:"name"`
	State       State           `json:"state" jsonschema:"enum=accepted,enum=degraded,enum=failed"`
	Degraded    bool            `json:"degraded"`
	Text        string          `json:"text"`
	RawText     string          `json:"raw_text,omitempty"`
	BestAttempt int             `json:"best_attempt,omitempty"`
	TotalTokens int             `json:"total_tokens"`
	Attempts    []AttemptOutput `json:"attempts"`
	Error       string          `json:"error,omitempty"`
}

// AttemptOutput is the JSON form of one attempt.
type AttemptOutput struct {
	Number         int           `json:"number"`
	Model          string        `json:"model"`
	Passed         bool          `json:"passed"`
	TokensUsed     int           `json:"tokens_used"`
	InputChars     int           `json:"input_chars"`
	OutputChars    int           `json:"output_chars"`
	ElapsedSeconds float64       `json:"elapsed_seconds"`
	Issues         []IssueOutput `json:"issues"`
}

// IssueOutput is the JSON form of a validation issue.
type IssueOutput struct {
	Category string `json:"category"`
	Severity string `json:"severity"`
	Code     string `json:"code,omitempty"`
	Subject  string `json:"subject,omitempty"`
	Message  string `json:"message"`
}

// NewTaskOutput converts a result to its JSON form.
func NewTaskOutput(r *Result) TaskOutput {
	out := TaskOutput{
		TaskID:      r.TaskID,
		Name:        r.TaskName,
		State:       r.State,
		Degraded:    r.Degraded,
		Text:        r.Text,
		TotalTokens: r.TotalTokens(),
		Attempts:    make([]AttemptOutput, 0, len(r.Attempts)),
	}
	if r.RawText != r.Text {
		out.RawText = r.RawText
	}
	if best := r.BestAttempt(); best != nil {
		out.BestAttempt = best.Number
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	for _, a := range r.Attempts {
		out.Attempts = append(out.Attempts, AttemptOutput{
			Number:         a.Number,
			Model:          a.Model,
			Passed:         a.Passed(),
			TokensUsed:     a.Metrics.TokensUsed,
			InputChars:     a.Metrics.InputChars,
			OutputChars:    a.Metrics.OutputChars,
			ElapsedSeconds: a.Metrics.ElapsedSeconds,
			Issues:         issueOutputs(a.Report.Issues),
		})
	}
	return out
}

func issueOutputs(issues []validate.Issue) []IssueOutput {
	out := make([]IssueOutput, 0, len(issues))
	for _, i := range issues {
		out = append(out, IssueOutput{
			Category: string(i.Category),
			Severity: string(i.Severity),
			Code:     i.Code,
			Subject:  i.Subject,
			Message:  i.Message,
		})
	}
	return out
}
