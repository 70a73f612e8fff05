package enrich

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/testutil"
	"github.com/jackzampolin/enrich/internal/types"
)

// 12 items, batch 5, concurrency 2: chunks 1-2 run together, chunk 3 alone.
func TestEngine_WaveStructure(t *testing.T) {
	var (
		mu          sync.Mutex
		inFlight    int
		maxInFlight int
		finished    int
		lastStarted int = -1
	)
	client := &providers.MockClient{Respond: func(ctx context.Context, call int64, req *providers.BatchRequest) (*providers.Completion, error) {
		mu.Lock()
		inFlight++
		maxInFlight = max(maxInFlight, inFlight)
		if req.Items[0].ID == "q11" {
			lastStarted = finished
		}
		mu.Unlock()

		time.Sleep(50 * time.Millisecond)

		mu.Lock()
		inFlight--
		finished++
		mu.Unlock()
		return providers.MockCompletion(providers.GeneratePayloadJSON(req.Items)), nil
	}}

	session := progress.NewSession("a")
	results, err := newTestEngine(client, nil).Run(context.Background(), testutil.Items(12), fastOptions(), session)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := client.RequestCount(); got != 3 {
		t.Errorf("requests = %d, want 3", got)
	}
	if maxInFlight != 2 {
		t.Errorf("max in flight = %d, want 2", maxInFlight)
	}
	if lastStarted != 2 {
		t.Errorf("third chunk started after %d finished chunks, want 2", lastStarted)
	}
	snap := session.Snapshot()
	if snap.Counters.ProcessedBatches != 3 || snap.Counters.TotalBatches != 3 {
		t.Errorf("counters = %+v", snap.Counters)
	}
	if snap.Phase != progress.PhaseComplete || snap.ProgressPercent != 100 {
		t.Errorf("session = %s/%d", snap.Phase, snap.ProgressPercent)
	}
	if len(results) != 12 {
		t.Errorf("results = %d, want 12", len(results))
	}
}

func TestEngine_FencedResponse(t *testing.T) {
	client := &providers.MockClient{Respond: respondWith(func(call int64, req *providers.BatchRequest) (*providers.Completion, error) {
		return providers.MockCompletion("```json\n" + providers.GeneratePayloadJSON(req.Items) + "\n```"), nil
	})}

	results, err := newTestEngine(client, nil).Run(context.Background(), testutil.Items(4), fastOptions(), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, r := range results {
		if r.FallbackUsed || r.Source != types.SourceAI {
			t.Errorf("%s should come straight from the fenced response: %+v", r.ID, r)
		}
	}
	if got := client.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
}

// Stopping after wave 1 of 3 runs no further waves and produces no results.
func TestEngine_StopAfterFirstWave(t *testing.T) {
	client := &providers.MockClient{}
	firstWave := make(chan struct{}, 1)
	session := progress.NewSession("e", progress.WithObservers(progress.ObserverFunc(func(s progress.Snapshot) {
		if s.Counters.ProcessedBatches == 1 {
			select {
			case firstWave <- struct{}{}:
			default:
			}
		}
	})))

	opts := fastOptions()
	opts.BatchSize = 2
	opts.Concurrency = 1
	opts.InterWavePace = time.Second

	go func() {
		<-firstWave
		session.Stop()
	}()

	results, err := newTestEngine(client, nil).Run(context.Background(), testutil.Items(6), opts, session)

	if !errors.Is(err, ErrStopped) {
		t.Fatalf("Run() error = %v, want ErrStopped", err)
	}
	if results != nil {
		t.Errorf("results = %v, want nil", results)
	}
	if got := client.RequestCount(); got != 1 {
		t.Errorf("requests = %d, want 1", got)
	}
	snap := session.Snapshot()
	if snap.Phase != progress.PhaseError || snap.Message != progress.StopMessage {
		t.Errorf("session = %s/%q", snap.Phase, snap.Message)
	}
	if snap.Counters.ProcessedBatches != 1 {
		t.Errorf("ProcessedBatches = %d, want 1", snap.Counters.ProcessedBatches)
	}
}

func TestEngine_StoppedBeforeStart(t *testing.T) {
	session := progress.NewSession("")
	session.Stop()
	client := &providers.MockClient{}

	if _, err := newTestEngine(client, nil).Run(context.Background(), testutil.Items(2), fastOptions(), session); !errors.Is(err, ErrStopped) {
		t.Errorf("Run() error = %v, want ErrStopped", err)
	}
	if client.RequestCount() != 0 {
		t.Error("no request should be sent")
	}
}

func TestEngine_Completeness(t *testing.T) {
	// Every failure mode at once: each item still gets exactly one result.
	client := &providers.MockClient{Respond: respondWith(func(call int64, req *providers.BatchRequest) (*providers.Completion, error) {
		switch call % 5 {
		case 0:
			return providers.MockTransportError("reset"), nil
		case 1:
			return providers.MockCompletion(`{"results": [{"id": "` + req.Items[0].ID + `", "answer": "Q", "explanation": ""}`), nil
		case 2:
			return providers.MockRateLimited(0), nil
		case 3:
			return providers.MockCompletion("no json here"), nil
		default:
			return providers.MockCompletion(providers.GeneratePayloadJSON(req.Items[len(req.Items)/2:])), nil
		}
	})}
	items := testutil.Items(23)
	session := progress.NewSession("chaos")

	results, err := newTestEngine(client, &fakeTimer{}).Run(context.Background(), items, fastOptions(), session)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != len(items) {
		t.Fatalf("results = %d, want %d", len(results), len(items))
	}
	seen := make(map[string]bool)
	for i, r := range results {
		if r.ID != items[i].ID {
			t.Errorf("result %d is %s, want %s", i, r.ID, items[i].ID)
		}
		if seen[r.ID] {
			t.Errorf("duplicate result %s", r.ID)
		}
		seen[r.ID] = true
		if r.Answer == "" || r.Explanation == "" {
			t.Errorf("%s is incomplete", r.ID)
		}
	}
	if session.Phase() != progress.PhaseComplete {
		t.Errorf("phase = %s", session.Phase())
	}
}

func TestEngine_FallbackIsDeterministic(t *testing.T) {
	items := testutil.Items(5)
	run := func() []types.Result {
		client := &providers.MockClient{ShouldFail: true}
		results, err := newTestEngine(client, &fakeTimer{}).Run(context.Background(), items, fastOptions(), nil)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return results
	}

	first, second := run(), run()
	if !reflect.DeepEqual(first, second) {
		t.Error("fallback output differs between runs")
	}
	for _, r := range first {
		if r.Status != types.StatusError || !r.FallbackUsed {
			t.Errorf("%s = %+v, want synthesized", r.ID, r)
		}
	}
}

func TestEngine_MonotonicProgress(t *testing.T) {
	rec := &snapshotRecorder{}
	session := progress.NewSession("mono", progress.WithObservers(rec))
	client := &providers.MockClient{Latency: time.Millisecond}
	opts := fastOptions()
	opts.BatchSize = 2
	opts.Concurrency = 3

	if _, err := newTestEngine(client, nil).Run(context.Background(), testutil.Items(17), opts, session); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	snaps := rec.all()
	for i := 1; i < len(snaps); i++ {
		if snaps[i].ProgressPercent < snaps[i-1].ProgressPercent {
			t.Fatalf("percent decreased at %d: %d -> %d", i, snaps[i-1].ProgressPercent, snaps[i].ProgressPercent)
		}
		if snaps[i].Counters.ProcessedBatches < snaps[i-1].Counters.ProcessedBatches {
			t.Fatalf("processed decreased at %d", i)
		}
	}
	if last := snaps[len(snaps)-1]; last.ProgressPercent != 100 || last.Counters.ProcessedBatches != 9 {
		t.Errorf("final snapshot = %+v", last)
	}
}

func TestEngine_JobLevelErrors(t *testing.T) {
	tests := []struct {
		name  string
		items []types.Item
		opts  Options
		want  error
	}{
		{"no items", nil, fastOptions(), ErrNoItems},
		{"empty id", []types.Item{{ID: ""}}, fastOptions(), ErrInvalidItems},
		{"duplicate id", []types.Item{{ID: "x"}, {ID: "x"}}, fastOptions(), ErrInvalidItems},
		{"bad options", testutil.Items(1), Options{InterWavePace: time.Minute}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := progress.NewSession("")
			client := &providers.MockClient{}
			results, err := newTestEngine(client, nil).Run(context.Background(), tt.items, tt.opts, session)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			if results != nil || client.RequestCount() != 0 {
				t.Error("no results or requests expected")
			}
			if snap := session.Snapshot(); snap.Phase != progress.PhaseError || snap.Message == "" {
				t.Errorf("session = %s/%q", snap.Phase, snap.Message)
			}
		})
	}
}

func TestEngine_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &providers.MockClient{Respond: func(ctx context.Context, call int64, req *providers.BatchRequest) (*providers.Completion, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	session := progress.NewSession("")

	_, err := newTestEngine(client, nil).Run(ctx, testutil.Items(4), fastOptions(), session)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if session.Phase() != progress.PhaseError {
		t.Errorf("phase = %s", session.Phase())
	}
}

func TestNew_RequiresClient(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("expected error without client")
	}
}
