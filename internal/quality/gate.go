// Package quality decides which parts of a model payload are usable.
//
// The gate is a pure predicate: the same item and payload always produce the
// same verdict, and nothing is mutated.
package quality

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jackzampolin/enrich/internal/types"
)

const (
	// MinExplanationRunes is the minimum trimmed length of an explanation.
	MinExplanationRunes = 120
	// MinSentenceMarks is how many sentence-ending marks make an explanation
	// multi-sentence.
	MinSentenceMarks = 3
	// MinLines is the alternative structure test: non-empty lines.
	MinLines = 4
)

// Verdict lists what needs fallback for one item.
type Verdict struct {
	// Whole is set when the payload is missing or has no usable answer.
	// Everything is synthesized.
	Whole bool `json:"whole"`

	// Explanation is set when the explanation is too thin.
	Explanation bool `json:"explanation"`

	// Options lists option labels whose explanation is empty, in option order.
	Options []string `json:"options,omitempty"`
}

// Accepted reports whether the payload can be used without any fallback.
func (v Verdict) Accepted() bool {
	return !v.Whole && !v.Explanation && len(v.Options) == 0
}

// Check runs the gate for item against p. A nil payload needs whole fallback.
func Check(item types.Item, p *types.Payload) Verdict {
	if p == nil {
		return Verdict{Whole: true}
	}

	if item.IsMultipleChoice() {
		if CanonicalAnswer(p.Answer, item.OptionLabels()) == "" {
			return Verdict{Whole: true}
		}
	} else if strings.TrimSpace(p.Answer) == "" {
		return Verdict{Whole: true}
	}

	var v Verdict
	v.Explanation = !ExplanationSufficient(p.Explanation)

	if item.IsMultipleChoice() {
		for _, opt := range item.Options {
			if strings.TrimSpace(p.OptionText(opt.Label)) == "" {
				v.Options = append(v.Options, opt.Label)
			}
		}
	}
	return v
}

// ExplanationSufficient reports whether s is long enough and has more than
// one sentence or line of structure.
func ExplanationSufficient(s string) bool {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) < MinExplanationRunes {
		return false
	}
	return SentenceMarks(s) >= MinSentenceMarks || NonEmptyLines(s) >= MinLines
}

// SentenceMarks counts ASCII and full-width sentence terminators.
func SentenceMarks(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case '.', '!', '?', '。', '！', '？':
			n++
		}
	}
	return n
}

// NonEmptyLines counts newline-delimited segments with visible content.
func NonEmptyLines(s string) int {
	n := 0
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

// CanonicalAnswer normalizes a multiple-choice answer: upper-case, restricted
// to the given option labels, deduplicated and sorted. "A,C", "CA", "a c" and
// "A and C" all become "AC". A lead-in ending in a colon ("Answer: B") is
// skipped. Every remaining token must be a label or a run of label letters;
// prose such as "B because A is wrong" yields "", as does an answer with no
// label at all.
func CanonicalAnswer(answer string, labels []string) string {
	valid := make(map[string]bool, len(labels))
	singleRune := true
	for _, l := range labels {
		l = strings.ToUpper(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		valid[l] = true
		if utf8.RuneCountInString(l) != 1 {
			singleRune = false
		}
	}
	if len(valid) == 0 {
		return ""
	}

	if _, after, ok := strings.Cut(answer, ":"); ok {
		answer = after
	}
	tokens := strings.FieldsFunc(strings.ToUpper(answer), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool)
	var picked []string
	add := func(l string) {
		if !seen[l] {
			seen[l] = true
			picked = append(picked, l)
		}
	}
	for _, tok := range tokens {
		if valid[tok] {
			add(tok)
			continue
		}
		if tok == "AND" {
			continue
		}
		runes := []rune(tok)
		if len(runes) < 2 {
			return ""
		}
		for _, r := range runes {
			if !valid[string(r)] {
				return ""
			}
		}
		for _, r := range runes {
			add(string(r))
		}
	}
	if len(picked) == 0 {
		return ""
	}

	sort.Strings(picked)
	if singleRune {
		return strings.Join(picked, "")
	}
	return strings.Join(picked, ",")
}
