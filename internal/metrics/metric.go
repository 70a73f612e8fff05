// Package metrics provides usage tracking for completion calls.
package metrics

import "time"

// Metric represents a single recorded completion call.
// Metrics are append-only and attributed to the job that made the call.
type Metric struct {
	// Attribution (for filtering/aggregation)
	JobID     string `json:"job_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Items     int    `json:"items"`

	// Provider info
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`

	// Tokens
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`

	// Timing
	ExecutionSeconds float64 `json:"execution_seconds,omitempty"`

	// Status
	Success    bool   `json:"success"`
	Status     string `json:"status,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`

	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Filter specifies which metrics to select. Zero fields match anything.
type Filter struct {
	JobID    string
	Provider string
	Model    string
	After    time.Time
	Success  *bool // nil = any, true = success only, false = errors only
}

// Match reports whether m passes the filter.
func (f Filter) Match(m Metric) bool {
	if f.JobID != "" && m.JobID != f.JobID {
		return false
	}
	if f.Provider != "" && m.Provider != f.Provider {
		return false
	}
	if f.Model != "" && m.Model != f.Model {
		return false
	}
	if !f.After.IsZero() && !m.CreatedAt.After(f.After) {
		return false
	}
	if f.Success != nil && m.Success != *f.Success {
		return false
	}
	return true
}
