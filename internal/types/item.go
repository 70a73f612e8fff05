// Package types provides shared types used across multiple packages.
// This package has no dependencies on other enrich packages to avoid import cycles.
package types

// Kind identifies how an item is answered.
type Kind string

const (
	// KindMultipleChoice is an item with a fixed option list and a letter answer.
	KindMultipleChoice Kind = "multiple_choice"
	// KindFreeResponse is an item answered in free text.
	KindFreeResponse Kind = "free_response"
)

// ParseKind converts a string to a Kind.
// Returns KindMultipleChoice if the string is not recognized.
func ParseKind(s string) Kind {
	switch s {
	case string(KindFreeResponse), "free", "open":
		return KindFreeResponse
	default:
		return KindMultipleChoice
	}
}

// Option is one selectable choice of a multiple-choice item.
type Option struct {
	Label string `json:"label" yaml:"label"` // "A", "B", ...
	Text  string `json:"text" yaml:"text"`
}

// Item is one unit of content submitted for enrichment.
// Items are treated as immutable values once a job starts.
type Item struct {
	ID          string   `json:"id" yaml:"id"`
	Kind        Kind     `json:"kind,omitempty" yaml:"kind,omitempty"`
	Content     string   `json:"content" yaml:"content"`
	Options     []Option `json:"options,omitempty" yaml:"options,omitempty"`
	PriorAnswer string   `json:"prior_answer,omitempty" yaml:"prior_answer,omitempty"`
}

// IsMultipleChoice reports whether the item is answered by option labels.
// Items without an explicit kind are multiple choice when they carry options.
func (i Item) IsMultipleChoice() bool {
	if i.Kind == "" {
		return len(i.Options) > 0
	}
	return i.Kind == KindMultipleChoice
}

// OptionLabels returns the option labels in declaration order.
func (i Item) OptionLabels() []string {
	labels := make([]string, 0, len(i.Options))
	for _, o := range i.Options {
		labels = append(labels, o.Label)
	}
	return labels
}

// OptionExplanation explains why one option is or is not correct.
type OptionExplanation struct {
	Label string `json:"label" yaml:"label"`
	Text  string `json:"text" yaml:"text"`
}

// Payload is the per-item object returned by the completion service.
type Payload struct {
	ID                 string              `json:"id"`
	Answer             string              `json:"answer"`
	Explanation        string              `json:"explanation"`
	OptionExplanations []OptionExplanation `json:"option_explanations,omitempty"`
}

// OptionText returns the explanation for the given option label, or "".
func (p Payload) OptionText(label string) string {
	for _, oe := range p.OptionExplanations {
		if oe.Label == label {
			return oe.Text
		}
	}
	return ""
}

// ResultStatus is the informational status of a result.
type ResultStatus string

const (
	// StatusOK means the completion service contributed to the result.
	StatusOK ResultStatus = "ok"
	// StatusError means the result was synthesized without any service output.
	StatusError ResultStatus = "error"
)

// Source records which tier produced the service part of a result.
type Source string

const (
	// SourceAI indicates the payload came from a chunk-level request.
	SourceAI Source = "ai"
	// SourceSingle indicates the payload came from a single-item resubmission.
	SourceSingle Source = "single"
	// SourceFallback indicates no payload was available.
	SourceFallback Source = "fallback"
)

// Field names reported in Result.FallbackFields.
const (
	FieldAnswer             = "answer"
	FieldExplanation        = "explanation"
	FieldOptions            = "options"
	FieldOptionExplanations = "option_explanations"
)

// Result is the final outcome for one item.
type Result struct {
	ID                 string              `json:"id" yaml:"id"`
	Status             ResultStatus        `json:"status" yaml:"status"`
	Answer             string              `json:"answer" yaml:"answer"`
	Explanation        string              `json:"explanation" yaml:"explanation"`
	Options            []Option            `json:"options,omitempty" yaml:"options,omitempty"`
	OptionExplanations []OptionExplanation `json:"option_explanations,omitempty" yaml:"option_explanations,omitempty"`
	FallbackUsed       bool                `json:"fallback_used" yaml:"fallback_used"`
	FallbackFields     []string            `json:"fallback_fields,omitempty" yaml:"fallback_fields,omitempty"`
	Source             Source              `json:"source" yaml:"source"`
}
