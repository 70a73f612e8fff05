package metrics

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/testutil"
)

func TestInstrument(t *testing.T) {
	rec := NewRecorder(0)
	mock := &providers.MockClient{
		Respond: func(ctx context.Context, call int64, req *providers.BatchRequest) (*providers.Completion, error) {
			if call == 2 {
				return providers.MockRateLimited(time.Second), nil
			}
			comp := providers.MockCompletion(providers.GeneratePayloadJSON(req.Items))
			comp.PromptTokens = 100
			comp.CompletionTokens = 20
			return comp, nil
		},
	}
	client := rec.Instrument(mock, "job-1")
	if client.Name() != providers.MockClientName {
		t.Errorf("Name() = %q", client.Name())
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := client.Send(ctx, &providers.BatchRequest{Items: testutil.Items(2)}); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}

	got := rec.List(Filter{JobID: "job-1"})
	if len(got) != 3 {
		t.Fatalf("recorded %d metrics, want 3", len(got))
	}
	if got[0].Provider != "mock" || got[0].Model != "mock-model" || got[0].Items != 2 || got[0].TotalTokens != 120 {
		t.Errorf("first metric = %+v", got[0])
	}
	if got[1].Success || got[1].Status != string(providers.StatusRateLimited) || got[1].StatusCode != 429 {
		t.Errorf("rate limited metric = %+v", got[1])
	}

	s := rec.Summary(Filter{JobID: "job-1"})
	if s.Count != 3 || s.SuccessCount != 2 || s.ErrorCount != 1 {
		t.Errorf("summary counts = %+v", s)
	}
	if s.ByStatus["ok"] != 2 || s.ByStatus["rate_limited"] != 1 {
		t.Errorf("ByStatus = %v", s.ByStatus)
	}
	if s.TotalTokens != 240 || s.Items != 6 {
		t.Errorf("summary tokens/items = %d/%d", s.TotalTokens, s.Items)
	}
}

func TestInstrument_TransportError(t *testing.T) {
	rec := NewRecorder(0)
	client := rec.Instrument(&providers.MockClient{ShouldFail: true}, "job-2")

	if _, err := client.Send(context.Background(), &providers.BatchRequest{Items: testutil.Items(1)}); err == nil {
		t.Fatal("expected error")
	}
	got := rec.List(Filter{})
	if len(got) != 1 || got[0].Success || got[0].Status != "error" || got[0].Provider != "mock" {
		t.Errorf("metrics = %+v", got)
	}
}

func TestRecorder_Bounded(t *testing.T) {
	rec := NewRecorder(3)
	for i := 0; i < 5; i++ {
		rec.Record(Metric{JobID: "j", Items: i})
	}
	got := rec.List(Filter{})
	if len(got) != 3 || got[0].Items != 2 || got[2].Items != 4 {
		t.Errorf("List() = %+v, want the last three", got)
	}
}

func TestRecorder_Forget(t *testing.T) {
	rec := NewRecorder(0)
	rec.Record(Metric{JobID: "a"})
	rec.Record(Metric{JobID: "b"})
	rec.Record(Metric{JobID: "a"})

	if n := rec.Forget("a"); n != 2 {
		t.Errorf("Forget() = %d, want 2", n)
	}
	if rec.Len() != 1 || rec.List(Filter{})[0].JobID != "b" {
		t.Errorf("remaining = %+v", rec.List(Filter{}))
	}
}

func TestFilter(t *testing.T) {
	ok := true
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := Metric{JobID: "j", Provider: "p", Model: "m", Success: true, CreatedAt: base}

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"empty", Filter{}, true},
		{"job", Filter{JobID: "j"}, true},
		{"other job", Filter{JobID: "x"}, false},
		{"provider and model", Filter{Provider: "p", Model: "m"}, true},
		{"after", Filter{After: base.Add(-time.Second)}, true},
		{"not after", Filter{After: base}, false},
		{"success", Filter{Success: &ok}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Match(m); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(nil)
	if s.Count != 0 || s.ByStatus != nil {
		t.Errorf("empty summary = %+v", s)
	}

	s = Summarize([]Metric{
		{Success: true, ExecutionSeconds: 1, TotalTokens: 10},
		{Success: true, ExecutionSeconds: 3, TotalTokens: 30},
		{Success: false, ExecutionSeconds: 2},
	})
	if s.LatencyMin != 1 || s.LatencyMax != 3 || s.LatencyP50 != 2 || s.LatencyAvg != 2 {
		t.Errorf("latency = %+v", s)
	}
	if math.Abs(s.AvgTokens-40.0/3) > 1e-9 {
		t.Errorf("AvgTokens = %v", s.AvgTokens)
	}
	if s.TotalTime() != 6*time.Second {
		t.Errorf("TotalTime() = %v", s.TotalTime())
	}
}

func TestPercentile(t *testing.T) {
	sorted := []float64{1, 2, 3, 4, 5}
	if got := percentile(sorted, 50); got != 3 {
		t.Errorf("p50 = %v", got)
	}
	if got := percentile(sorted, 95); math.Abs(got-4.8) > 1e-9 {
		t.Errorf("p95 = %v", got)
	}
	if got := percentile([]float64{7}, 99); got != 7 {
		t.Errorf("single = %v", got)
	}
}
