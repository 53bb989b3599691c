// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// RepetitionReport summarizes sentence-level repetition.
type RepetitionReport struct {
	Sentences  int
	Unique     int
	Ratio      float64 // Unique / Sentences, 1 for empty text
	Repetitive bool

	// Repeated lists normalized sentences seen more than once, in first-seen order.
	Repeated []string
}

// Repetition scores text against threshold. A ratio of unique to total
// sentences below threshold is repetitive. Texts with fewer than
// minSentences sentences are never judged repetitive.
func Repetition(text string, threshold float64, minSentences int) RepetitionReport {
	sentences := splitSentences(text)

	counts := make(map[string]int, len(sentences))
	var order []string
	for _, s := range sentences {
		key := normalizeSentence(s)
		if key == "" {
			continue
		}
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	r := RepetitionReport{Sentences: total, Unique: len(counts), Ratio: 1}
	if total > 0 {
		r.Ratio = float64(r.Unique) / float64(total)
	}
	for _, key := range order {
		if counts[key] > 1 {
			r.Repeated = append(r.Repeated, key)
		}
	}
	r.Repetitive = total >= minSentences && r.Ratio < threshold
	return r
}

// CheckRepetition returns an issue when text is repetitive under p.
func CheckRepetition(text string, p *Profile) []Issue {
	if p == nil {
		p = DefaultProfile()
	}
	r := Repetition(text, p.threshold(), p.minSentences())
	if !r.Repetitive {
		return nil
	}
	return []Issue{errorIssue(CategoryRepetition, "", "",
		"only %d of %d sentences are unique (ratio %.2f, threshold %.2f)",
		r.Unique, r.Sentences, r.Ratio, p.threshold())}
}

// splitSentences breaks on terminal punctuation followed by space and on
// line breaks. Header lines count as sentences of their own.
func splitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)

	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" {
			out = append(out, s)
		}
		cur.Reset()
	}

	for i, r := range runes {
		if r == '\n' {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return out
}

// normalizeSentence applies NFKC, case folding, punctuation removal and
// whitespace collapse.
func normalizeSentence(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// DeduplicateSections removes repeated content for salvage: a header section
// whose header was already seen is dropped whole, and a paragraph whose
// normalized text already appeared is dropped. First occurrences keep their
// order.
func DeduplicateSections(text string) string {
	seenHeaders := make(map[string]bool)
	seenParas := make(map[string]bool)

	var out []string
	for _, sec := range splitSections(text) {
		if sec.header != "" {
			key := normalizeHeader(sec.header)
			if seenHeaders[key] {
				continue
			}
			seenHeaders[key] = true
			out = append(out, sec.header)
		}
		for _, para := range splitParagraphs(sec.body) {
			key := normalizeSentence(para)
			if key == "" || seenParas[key] {
				continue
			}
			seenParas[key] = true
			out = append(out, para)
		}
	}
	return strings.Join(out, "\n\n")
}

func splitParagraphs(body string) []string {
	var paras []string
	var cur []string
	for _, line := range strings.Split(body, "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				paras = append(paras, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, strings.TrimRight(line, " \t\r"))
	}
	if len(cur) > 0 {
		paras = append(paras, strings.Join(cur, "\n"))
	}
	return paras
}
