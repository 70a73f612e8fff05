package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/jackzampolin/enrich/internal/providers"
)

// DefaultMaxMetrics bounds the number of metrics a Recorder keeps.
const DefaultMaxMetrics = 100_000

// Recorder keeps completion metrics in memory. Safe for concurrent use.
// When full, the oldest metrics are discarded.
type Recorder struct {
	mu      sync.RWMutex
	metrics []Metric
	max     int
	now     func() time.Time
}

// NewRecorder creates a recorder holding at most limit metrics (0 uses the
// default).
func NewRecorder(limit int) *Recorder {
	if limit <= 0 {
		limit = DefaultMaxMetrics
	}
	return &Recorder{max: limit, now: time.Now}
}

// Record appends a metric.
func (r *Recorder) Record(m Metric) {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = r.now().UTC()
	}
	if m.TotalTokens == 0 {
		m.TotalTokens = m.PromptTokens + m.CompletionTokens
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.metrics) >= r.max {
		n := copy(r.metrics, r.metrics[len(r.metrics)-r.max+1:])
		r.metrics = r.metrics[:n]
	}
	r.metrics = append(r.metrics, m)
}

// RecordCompletion records the outcome of one Send. comp may be nil when the
// call failed before a response was built; elapsed is used when comp carries
// no execution time.
func (r *Recorder) RecordCompletion(jobID, provider string, req *providers.BatchRequest, comp *providers.Completion, elapsed time.Duration, err error) {
	m := Metric{JobID: jobID, Provider: provider, ExecutionSeconds: elapsed.Seconds()}
	if req != nil {
		m.RequestID = req.RequestID
		m.Items = len(req.Items)
		m.Model = req.Model
	}
	if comp != nil {
		if comp.Provider != "" {
			m.Provider = comp.Provider
		}
		if comp.ModelUsed != "" {
			m.Model = comp.ModelUsed
		}
		if comp.RequestID != "" {
			m.RequestID = comp.RequestID
		}
		m.PromptTokens = comp.PromptTokens
		m.CompletionTokens = comp.CompletionTokens
		if comp.ExecutionTime > 0 {
			m.ExecutionSeconds = comp.ExecutionTime.Seconds()
		}
		m.Status = string(comp.Status)
		m.StatusCode = comp.StatusCode
		m.Success = comp.OK()
	}
	if err != nil {
		m.Success = false
		m.Status = "error"
	}
	r.Record(m)
}

// List returns the metrics matching f, oldest first.
func (r *Recorder) List(f Filter) []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Metric
	for _, m := range r.metrics {
		if f.Match(m) {
			out = append(out, m)
		}
	}
	return out
}

// Forget drops every metric of a job.
func (r *Recorder) Forget(jobID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.metrics[:0]
	for _, m := range r.metrics {
		if m.JobID != jobID {
			kept = append(kept, m)
		}
	}
	dropped := len(r.metrics) - len(kept)
	clear(r.metrics[len(kept):])
	r.metrics = kept
	return dropped
}

// Len returns the number of stored metrics.
func (r *Recorder) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.metrics)
}

// Instrument wraps client so every Send is recorded against jobID.
func (r *Recorder) Instrument(client providers.CompletionClient, jobID string) providers.CompletionClient {
	return &instrumented{CompletionClient: client, recorder: r, jobID: jobID}
}

type instrumented struct {
	providers.CompletionClient
	recorder *Recorder
	jobID    string
}

func (c *instrumented) Send(ctx context.Context, req *providers.BatchRequest) (*providers.Completion, error) {
	start := time.Now()
	comp, err := c.CompletionClient.Send(ctx, req)
	c.recorder.RecordCompletion(c.jobID, c.Name(), req, comp, time.Since(start), err)
	return comp, err
}
