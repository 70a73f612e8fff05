package enrich

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/testutil"
	"github.com/jackzampolin/enrich/internal/types"
)

// fakeTimer records backoff waits and fires immediately.
type fakeTimer struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.mu.Lock()
	f.waits = append(f.waits, d)
	f.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (f *fakeTimer) all() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.waits))
	copy(out, f.waits)
	return out
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []progress.Snapshot
}

func (r *snapshotRecorder) Observe(s progress.Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, s)
}

func (r *snapshotRecorder) all() []progress.Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Snapshot, len(r.snaps))
	copy(out, r.snaps)
	return out
}

func newTestEngine(client providers.CompletionClient, timer *fakeTimer) *Engine {
	cfg := Config{Client: client, Logger: testutil.DiscardLogger()}
	if timer != nil {
		cfg.Timer = timer
	}
	e, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return e
}

func newTestScheduler(client providers.CompletionClient, opts Options, timer *fakeTimer) *Scheduler {
	cfg := SchedulerConfig{
		Client:  client,
		Options: opts.WithDefaults(),
		Logger:  testutil.DiscardLogger(),
	}
	if timer != nil {
		cfg.Timer = timer
	}
	return NewScheduler(cfg)
}

// fastOptions keeps tests quick: no pacing, tiny delays.
func fastOptions() Options {
	return Options{
		BatchSize:   5,
		Concurrency: 2,
		BaseDelay:   time.Millisecond,
		MaxDelay:    10 * time.Millisecond,
	}
}

func envelopeJSON(payloads ...types.Payload) string {
	b, _ := json.Marshal(struct {
		Results []types.Payload `json:"results"`
	}{Results: payloads})
	return string(b)
}

func respondWith(fn func(call int64, req *providers.BatchRequest) (*providers.Completion, error)) providers.RespondFunc {
	return func(_ context.Context, call int64, req *providers.BatchRequest) (*providers.Completion, error) {
		return fn(call, req)
	}
}

func resultByID(results []types.Result, id string) types.Result {
	for _, r := range results {
		if r.ID == id {
			return r
		}
	}
	return types.Result{}
}
