package enrich

import (
	"fmt"
	"strings"

	"github.com/jackzampolin/enrich/internal/fallback"
	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/quality"
	"github.com/jackzampolin/enrich/internal/types"
)

// Progress range owned by the merger.
const (
	progressMergeStart = 85
	progressMergeEnd   = 100
	mergeSteps         = 5
)

// Merge builds exactly one result per item, in input order. Accepted service
// fields are kept; everything the quality gate rejects is synthesized.
// Progress advances through 85-100; the session is not completed here.
func Merge(items []types.Item, payloads map[string]Collected, session *progress.Session) []types.Result {
	results := make([]types.Result, 0, len(items))
	step := max(1, len(items)/mergeSteps)
	fixed := 0

	for i, item := range items {
		var p *types.Payload
		source := types.SourceFallback
		if c, ok := payloads[item.ID]; ok {
			p = &c.Payload
			source = c.Source
		}

		r := mergeItem(item, p, source)
		if r.FallbackUsed && source != types.SourceSingle {
			fixed++
		}
		results = append(results, r)

		if session != nil && ((i+1)%step == 0 || i == len(items)-1) {
			percent := progressMergeStart + (progressMergeEnd-progressMergeStart)*(i+1)/len(items)
			session.SetProgress(min(percent, progressMergeEnd-1), fmt.Sprintf("Merged %d/%d items", i+1, len(items)))
		}
	}

	if session != nil && fixed > 0 {
		session.AddFixed(fixed)
	}
	return results
}

// mergeItem combines one payload with fallback content.
func mergeItem(item types.Item, p *types.Payload, source types.Source) types.Result {
	v := quality.Check(item, p)
	r := types.Result{
		ID:     item.ID,
		Status: types.StatusOK,
		Source: source,
	}

	if v.Whole {
		aiAnswer := ""
		if p != nil {
			aiAnswer = p.Answer
		}
		content := fallback.Synthesize(item, aiAnswer)
		r.Status = types.StatusError
		r.Source = types.SourceFallback
		r.Answer = content.Answer
		r.Explanation = content.Explanation
		r.FallbackUsed = true
		r.FallbackFields = []string{types.FieldAnswer, types.FieldExplanation}
		if item.IsMultipleChoice() {
			r.Options = content.Options
			r.OptionExplanations = fallback.DiversifyOpenings(item, content.OptionExplanations)
			if len(item.Options) == 0 {
				r.FallbackFields = append(r.FallbackFields, types.FieldOptions)
			}
			r.FallbackFields = append(r.FallbackFields, types.FieldOptionExplanations)
		}
		return r
	}

	if item.IsMultipleChoice() {
		r.Answer = quality.CanonicalAnswer(p.Answer, item.OptionLabels())
		r.Options = fallback.Options(item)
	} else {
		r.Answer = strings.TrimSpace(p.Answer)
	}

	r.Explanation = strings.TrimSpace(p.Explanation)
	if v.Explanation {
		r.Explanation = fallback.Explanation(item, r.Answer)
		r.FallbackFields = append(r.FallbackFields, types.FieldExplanation)
	}

	if item.IsMultipleChoice() {
		var synthesized []types.OptionExplanation
		if len(v.Options) > 0 {
			synthesized = fallback.OptionExplanations(item, r.Answer)
			r.FallbackFields = append(r.FallbackFields, types.FieldOptionExplanations)
		}
		exps := make([]types.OptionExplanation, 0, len(item.Options))
		for i, opt := range item.Options {
			text := strings.TrimSpace(p.OptionText(opt.Label))
			if text == "" {
				text = synthesized[i].Text
			}
			exps = append(exps, types.OptionExplanation{Label: opt.Label, Text: text})
		}
		r.OptionExplanations = fallback.DiversifyOpenings(item, exps)
	}

	r.FallbackUsed = len(r.FallbackFields) > 0
	return r
}
