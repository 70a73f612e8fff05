package metrics

import (
	"sort"
	"time"
)

// Summary provides aggregate statistics for a set of metrics.
type Summary struct {
	Count        int `json:"count" yaml:"count"`
	SuccessCount int `json:"success_count" yaml:"success_count"`
	ErrorCount   int `json:"error_count" yaml:"error_count"`

	// Calls broken down by completion status (ok, rate_limited, ...).
	ByStatus map[string]int `json:"by_status,omitempty" yaml:"by_status,omitempty"`

	Items int `json:"items" yaml:"items"`

	TotalPromptTokens     int     `json:"total_prompt_tokens" yaml:"total_prompt_tokens"`
	TotalCompletionTokens int     `json:"total_completion_tokens" yaml:"total_completion_tokens"`
	TotalTokens           int     `json:"total_tokens" yaml:"total_tokens"`
	AvgTokens             float64 `json:"avg_tokens" yaml:"avg_tokens"`

	// Latency (seconds)
	TotalSeconds float64 `json:"total_seconds" yaml:"total_seconds"`
	LatencyAvg   float64 `json:"latency_avg" yaml:"latency_avg"`
	LatencyMin   float64 `json:"latency_min" yaml:"latency_min"`
	LatencyMax   float64 `json:"latency_max" yaml:"latency_max"`
	LatencyP50   float64 `json:"latency_p50" yaml:"latency_p50"`
	LatencyP95   float64 `json:"latency_p95" yaml:"latency_p95"`
}

// TotalTime returns the summed execution time.
func (s *Summary) TotalTime() time.Duration {
	return time.Duration(s.TotalSeconds * float64(time.Second))
}

// Summary returns a summary of the metrics matching the filter.
func (r *Recorder) Summary(f Filter) *Summary {
	return Summarize(r.List(f))
}

// Summarize aggregates metrics.
func Summarize(metrics []Metric) *Summary {
	s := &Summary{Count: len(metrics)}
	if len(metrics) == 0 {
		return s
	}
	s.ByStatus = make(map[string]int)

	var latencies []float64
	for _, m := range metrics {
		if m.Success {
			s.SuccessCount++
		} else {
			s.ErrorCount++
		}
		if m.Status != "" {
			s.ByStatus[m.Status]++
		}
		s.Items += m.Items
		s.TotalPromptTokens += m.PromptTokens
		s.TotalCompletionTokens += m.CompletionTokens
		s.TotalTokens += m.TotalTokens
		s.TotalSeconds += m.ExecutionSeconds
		if m.ExecutionSeconds > 0 {
			latencies = append(latencies, m.ExecutionSeconds)
		}
	}
	s.AvgTokens = float64(s.TotalTokens) / float64(s.Count)

	if len(latencies) > 0 {
		sort.Float64s(latencies)
		s.LatencyMin = latencies[0]
		s.LatencyMax = latencies[len(latencies)-1]
		s.LatencyAvg = s.TotalSeconds / float64(len(latencies))
		s.LatencyP50 = percentile(latencies, 50)
		s.LatencyP95 = percentile(latencies, 95)
	}
	return s
}

// ByProvider groups the matching metrics by provider and summarizes each.
func (r *Recorder) ByProvider(f Filter) map[string]*Summary {
	groups := make(map[string][]Metric)
	for _, m := range r.List(f) {
		groups[m.Provider] = append(groups[m.Provider], m)
	}
	out := make(map[string]*Summary, len(groups))
	for name, ms := range groups {
		out[name] = Summarize(ms)
	}
	return out
}

// percentile calculates the p-th percentile from a sorted slice of values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	n := float64(len(sorted))
	idx := (p / 100.0) * (n - 1)

	// Interpolate between floor and ceil indices
	lower := int(idx)
	upper := lower + 1
	if upper >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	weight := idx - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}
