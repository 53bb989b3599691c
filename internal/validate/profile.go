// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package validate

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for repetition scoring.
const (
	DefaultRepetitionThreshold = 0.6
	DefaultMinSentences        = 4
)

// SectionSpec declares one expected section.
type SectionSpec struct {
	Header   string `yaml:"header" json:"header"`
	MinChars int    `yaml:"min_chars" json:"min_chars"`
}

// Profile describes an acceptable response.
type Profile struct {
	Name string `yaml:"name" json:"name"`

	RequiredHeaders []string      `yaml:"required_headers" json:"required_headers"`
	Ordered         bool          `yaml:"ordered" json:"ordered"`
	Sections        []SectionSpec `yaml:"sections" json:"sections"`

	// Patterns are case-insensitive regular expressions.
	OffTopicStart    []string `yaml:"off_topic_start" json:"off_topic_start"`
	OffTopicAnywhere []string `yaml:"off_topic_anywhere" json:"off_topic_anywhere"`
	DomainTerms      []string `yaml:"domain_terms" json:"domain_terms"`

	RepetitionThreshold float64 `yaml:"repetition_threshold" json:"repetition_threshold"`
	MinSentences        int     `yaml:"min_sentences" json:"min_sentences"`

	startRe    []*regexp.Regexp
	anywhereRe []*regexp.Regexp
	compiled   bool
}

// DefaultProfile returns the built-in review profile.
func DefaultProfile() *Profile {
	p := &Profile{
		Name:            "default",
		RequiredHeaders: []string{"Summary", "Findings", "Recommendations"},
		Ordered:         true,
		Sections: []SectionSpec{
			{Header: "Summary", MinChars: 40},
			{Header: "Findings", MinChars: 80},
			{Header: "Recommendations", MinChars: 40},
		},
		OffTopicStart: []string{
			`as an ai\b`,
			`i('m| am) (sorry|unable|not able)`,
			`i (cannot|can't|can not|won't)\b`,
			`(hello|hi|hey)\b[ ,!]`,
			`(great|good|interesting) question`,
			`thank(s| you) for`,
			`sure[,!]? (here|i can|let me)`,
			`certainly[,!]`,
			`of course[,!]`,
		},
		OffTopicAnywhere: []string{
			`as an ai language model`,
			`i don't have (access|the ability)`,
			`i hope this helps`,
			`let me know if you (have|need|would)`,
			`feel free to ask`,
			`is there anything else`,
		},
		DomainTerms: []string{
			"finding", "recommendation", "section", "document", "review",
			"requirement", "deficiency", "compliance", "paragraph", "reference",
		},
		RepetitionThreshold: DefaultRepetitionThreshold,
		MinSentences:        DefaultMinSentences,
	}
	// built-in patterns are known to compile
	_ = p.compile()
	return p
}

// ParseProfile reads a YAML profile. Omitted fields take the defaults.
func ParseProfile(data []byte) (*Profile, error) {
	p := DefaultProfile()
	p.compiled = false
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	if err := p.compile(); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadProfile reads a YAML profile from path.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profile: %w", err)
	}
	p, err := ParseProfile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// Check reports invalid profile values.
func (p *Profile) Check() error {
	if p.RepetitionThreshold < 0 || p.RepetitionThreshold > 1 {
		return fmt.Errorf("repetition_threshold must be in [0,1], got %v", p.RepetitionThreshold)
	}
	if p.MinSentences < 0 {
		return fmt.Errorf("min_sentences must be >= 0, got %d", p.MinSentences)
	}
	seen := make(map[string]bool)
	for _, h := range p.RequiredHeaders {
		key := normalizeHeader(h)
		if key == "" {
			return fmt.Errorf("required_headers contains an empty header")
		}
		if seen[key] {
			return fmt.Errorf("required_headers lists %q twice", h)
		}
		seen[key] = true
	}
	for _, s := range p.Sections {
		if normalizeHeader(s.Header) == "" {
			return fmt.Errorf("sections contains an entry without a header")
		}
		if s.MinChars < 0 {
			return fmt.Errorf("section %q: min_chars must be >= 0", s.Header)
		}
	}
	return nil
}

func (p *Profile) compile() error {
	start, err := compilePatterns(p.OffTopicStart, true)
	if err != nil {
		return fmt.Errorf("off_topic_start: %w", err)
	}
	anywhere, err := compilePatterns(p.OffTopicAnywhere, false)
	if err != nil {
		return fmt.Errorf("off_topic_anywhere: %w", err)
	}
	p.startRe, p.anywhereRe, p.compiled = start, anywhere, true
	return nil
}

func compilePatterns(patterns []string, anchored bool) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, pat := range patterns {
		expr := "(?i)" + pat
		if anchored {
			expr = `(?i)^\W*(?:` + pat + `)`
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pat, err)
		}
		out = append(out, re)
	}
	return out, nil
}

// patterns returns compiled patterns, compiling hand-built profiles lazily
// into a copy so the receiver is never mutated.
func (p *Profile) patterns() (start, anywhere []*regexp.Regexp) {
	if p.compiled {
		return p.startRe, p.anywhereRe
	}
	cp := *p
	if err := cp.compile(); err != nil {
		return nil, nil
	}
	return cp.startRe, cp.anywhereRe
}

func (p *Profile) threshold() float64 {
	if p.RepetitionThreshold <= 0 {
		return DefaultRepetitionThreshold
	}
	return p.RepetitionThreshold
}

func (p *Profile) minSentences() int {
	if p.MinSentences <= 0 {
		return DefaultMinSentences
	}
	return p.MinSentences
}

func (p *Profile) hasDomainTerm(text string) bool {
	lower := strings.ToLower(text)
	for _, term := range p.DomainTerms {
		if term != "" && strings.Contains(lower, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
