// Package fallback synthesizes substitute content for items the completion
// service could not enrich.
//
// Output is a pure function of the item: wording is picked from fixed phrase
// pools using an xxhash of the item content, so identical content always
// yields byte-identical text. Nothing here returns an error.
package fallback

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cespare/xxhash/v2"

	"github.com/jackzampolin/enrich/internal/quality"
	"github.com/jackzampolin/enrich/internal/types"
)

// PlaceholderOption is used when a multiple-choice item has no options.
var PlaceholderOption = types.Option{Label: "A", Text: "See explanation"}

const excerptRunes = 80

// Content is synthesized substitute content for one item.
type Content struct {
	Options            []types.Option
	Answer             string
	Explanation        string
	OptionExplanations []types.OptionExplanation
}

// Seed hashes the item content. The ID is not part of the seed.
func Seed(item types.Item) uint64 {
	return xxhash.Sum64String(item.Content)
}

func pick(pool []string, seed uint64, salt uint64) string {
	return pool[(seed+salt*0x9e3779b9)%uint64(len(pool))]
}

// Options returns the item's options, or a single placeholder option when a
// multiple-choice item has none.
func Options(item types.Item) []types.Option {
	if !item.IsMultipleChoice() {
		return nil
	}
	if len(item.Options) == 0 {
		return []types.Option{PlaceholderOption}
	}
	out := make([]types.Option, len(item.Options))
	copy(out, item.Options)
	return out
}

func labels(opts []types.Option) []string {
	out := make([]string, 0, len(opts))
	for _, o := range opts {
		out = append(out, o.Label)
	}
	return out
}

// Answer picks the answer for item. For multiple choice: the canonical form of
// aiAnswer, else of the prior answer, else the first option label. For free
// response: aiAnswer if non-blank, else the prior answer, else a placeholder.
func Answer(item types.Item, aiAnswer string) string {
	if !item.IsMultipleChoice() {
		switch {
		case strings.TrimSpace(aiAnswer) != "":
			return strings.TrimSpace(aiAnswer)
		case strings.TrimSpace(item.PriorAnswer) != "":
			return strings.TrimSpace(item.PriorAnswer)
		default:
			return frPlaceholder
		}
	}

	opts := Options(item)
	ls := labels(opts)
	if a := quality.CanonicalAnswer(aiAnswer, ls); a != "" {
		return a
	}
	if a := quality.CanonicalAnswer(item.PriorAnswer, ls); a != "" {
		return a
	}
	return strings.ToUpper(opts[0].Label)
}

// Explanation returns a templated explanation for item given its answer.
// The result always passes quality.ExplanationSufficient.
func Explanation(item types.Item, answer string) string {
	seed := Seed(item)
	topic := excerpt(item.Content)

	var parts []string
	if item.IsMultipleChoice() {
		parts = []string{
			fmt.Sprintf(pick(mcIntros, seed, 0), topic),
			fmt.Sprintf(pick(mcReasoning, seed, 1), answer),
			pick(mcDistractors, seed, 2),
			pick(closings, seed, 3),
		}
	} else {
		parts = []string{
			fmt.Sprintf(pick(frIntros, seed, 0), topic),
			pick(frBodies, seed, 1),
			pick(closings, seed, 3),
		}
	}
	return strings.Join(parts, " ")
}

// OptionExplanations returns one explanation per option, framed as correct or
// incorrect against answer. Consecutive explanations never share a connective.
func OptionExplanations(item types.Item, answer string) []types.OptionExplanation {
	opts := Options(item)
	if len(opts) == 0 {
		return nil
	}
	seed := Seed(item)
	correct := answerSet(answer, labels(opts))

	out := make([]types.OptionExplanation, 0, len(opts))
	prev := -1
	for i, opt := range opts {
		idx := int((seed + uint64(i)*7) % uint64(len(connectives)))
		if idx == prev {
			idx = (idx + 1) % len(connectives)
		}
		prev = idx

		frames := incorrectFrames
		if correct[strings.ToUpper(opt.Label)] {
			frames = correctFrames
		}
		frame := fmt.Sprintf(pick(frames, seed, uint64(i)+5), opt.Label)
		out = append(out, types.OptionExplanation{
			Label: opt.Label,
			Text:  connectives[idx] + ", " + frame,
		})
	}
	return out
}

// Synthesize builds complete substitute content for item. aiAnswer may be
// empty; a usable one is kept.
func Synthesize(item types.Item, aiAnswer string) Content {
	answer := Answer(item, aiAnswer)
	return Content{
		Options:            Options(item),
		Answer:             answer,
		Explanation:        Explanation(item, answer),
		OptionExplanations: OptionExplanations(item, answer),
	}
}

// DiversifyOpenings rewrites option explanations so no two open with the same
// word. The first occurrence of a word is kept; later ones get a connective
// prefix chosen from the item seed and not yet used as an opening.
func DiversifyOpenings(item types.Item, exps []types.OptionExplanation) []types.OptionExplanation {
	if len(exps) < 2 {
		return exps
	}
	seed := Seed(item)
	out := make([]types.OptionExplanation, len(exps))
	copy(out, exps)

	used := make(map[string]bool, len(out))
	for i := range out {
		w := OpeningWord(out[i].Text)
		if w != "" && !used[w] {
			used[w] = true
			continue
		}

		rewritten := false
		for k := 0; k < len(connectives); k++ {
			c := connectives[(int(seed%uint64(len(connectives)))+i+k)%len(connectives)]
			if used[strings.ToLower(c)] {
				continue
			}
			out[i].Text = c + ", " + lowerFirst(strings.TrimSpace(out[i].Text))
			used[strings.ToLower(c)] = true
			rewritten = true
			break
		}
		if !rewritten {
			// Pool exhausted: the label itself is unique within an item.
			prefix := "(" + out[i].Label + ")"
			out[i].Text = prefix + " " + strings.TrimSpace(out[i].Text)
			used[strings.ToLower(prefix)] = true
		}
	}
	return out
}

// OpeningWord returns the lower-cased first word of s without surrounding
// punctuation.
func OpeningWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	w := strings.TrimFunc(fields[0], func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '(' && r != ')'
	})
	return strings.ToLower(w)
}

// answerSet splits a canonical answer into its labels.
func answerSet(answer string, ls []string) map[string]bool {
	set := make(map[string]bool)
	canonical := quality.CanonicalAnswer(answer, ls)
	if canonical == "" {
		return set
	}
	if strings.Contains(canonical, ",") {
		for _, l := range strings.Split(canonical, ",") {
			set[l] = true
		}
		return set
	}
	for _, r := range canonical {
		set[string(r)] = true
	}
	return set
}

// excerpt collapses whitespace and truncates content for use in templates.
func excerpt(content string) string {
	s := strings.Join(strings.Fields(content), " ")
	s = strings.TrimRight(s, ".!?。！？ ")
	if s == "" {
		return "the given material"
	}
	if utf8.RuneCountInString(s) > excerptRunes {
		r := []rune(s)
		s = strings.TrimSpace(string(r[:excerptRunes])) + "..."
	}
	return fmt.Sprintf("%q", s)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError || size == len(s) {
		return s
	}
	next, _ := utf8.DecodeRuneInString(s[size:])
	// Keep acronyms and labels like "B" or "DNA" as written.
	if unicode.IsUpper(next) || !unicode.IsLetter(next) {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
