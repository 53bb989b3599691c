// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

// IsOffTopic reports whether text reads as chat or refusal instead of review
// content. A conversational opening is always off-topic; a conversational
// phrase elsewhere counts only when no domain term appears in the text.
func IsOffTopic(text string, p *Profile) bool {
	_, off := offTopicMatch(text, p)
	return off
}

// CheckOffTopic returns an issue when text is off-topic.
func CheckOffTopic(text string, p *Profile) []Issue {
	match, off := offTopicMatch(text, p)
	if !off {
		return nil
	}
	return []Issue{errorIssue(CategoryOffTopic, "", "", "response is conversational or a refusal (matched %q)", match)}
}

func offTopicMatch(text string, p *Profile) (string, bool) {
	if p == nil {
		p = DefaultProfile()
	}
	start, anywhere := p.patterns()

	for _, re := range start {
		if m := re.FindString(text); m != "" {
			return trimMatch(m), true
		}
	}

	if p.hasDomainTerm(text) {
		return "", false
	}
	for _, re := range anywhere {
		if m := re.FindString(text); m != "" {
			return trimMatch(m), true
		}
	}
	return "", false
}

func trimMatch(m string) string {
	runes := []rune(m)
	for len(runes) > 0 && !isWordRune(runes[0]) {
		runes = runes[1:]
	}
	return string(runes)
}
