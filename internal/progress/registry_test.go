package progress

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackzampolin/enrich/internal/testutil"
)

func TestRegistry(t *testing.T) {
	t.Run("create and get", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{})
		s, err := r.Create("job-1")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		got, ok := r.Get("job-1")
		if !ok || got != s {
			t.Error("Get() did not return the created session")
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{})
		r.Create("job-1")
		if _, err := r.Create("job-1"); err == nil {
			t.Error("expected error for duplicate id")
		}
	})

	t.Run("observers are attached", func(t *testing.T) {
		rec := &recorder{}
		r := NewRegistry(RegistryConfig{Observers: []Observer{rec}})
		s, _ := r.Create("")
		s.Start("go")
		if len(rec.all()) != 1 {
			t.Errorf("observer saw %d snapshots, want 1", len(rec.all()))
		}
	})

	t.Run("list and remove", func(t *testing.T) {
		r := NewRegistry(RegistryConfig{})
		r.Create("b")
		r.Create("a")
		if got := r.List(); len(got) != 2 {
			t.Fatalf("List() = %d sessions, want 2", len(got))
		}
		if !r.Remove("a") || r.Remove("a") {
			t.Error("Remove() should succeed exactly once")
		}
		if r.Len() != 1 {
			t.Errorf("Len() = %d, want 1", r.Len())
		}
	})
}

func TestRegistry_Sweep(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(RegistryConfig{Now: func() time.Time { return now }})

	done, _ := r.Create("done")
	done.Start("")
	done.Complete("ok")

	failed, _ := r.Create("failed")
	failed.Start("")
	failed.Stop()

	running, _ := r.Create("running")
	running.Start("")

	now = now.Add(2 * time.Hour)
	fresh, _ := r.Create("fresh")
	fresh.Start("")
	fresh.Complete("ok")

	removed := r.Sweep(time.Hour)
	if len(removed) != 2 || removed[0] != "done" || removed[1] != "failed" {
		t.Errorf("Sweep() removed %v, want [done failed]", removed)
	}
	for _, id := range []string{"running", "fresh"} {
		if _, ok := r.Get(id); !ok {
			t.Errorf("%s should survive the sweep", id)
		}
	}
}

func TestRedisStore(t *testing.T) {
	url := testutil.RedisURL(t)
	ctx := context.Background()

	rdb, err := NewRedisClient(ctx, url)
	if err != nil {
		t.Fatalf("NewRedisClient() error = %v", err)
	}
	defer rdb.Close()

	store := NewRedisStore(rdb, RedisConfig{KeyPrefix: "enrich-test:", TTL: time.Minute, Logger: testutil.DiscardLogger()})
	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		store.Run(runCtx)
		close(stopped)
	}()

	s := NewSession("", WithObservers(store))
	t.Cleanup(func() { store.Delete(context.Background(), s.ID()) })
	s.Start("go")
	s.AddProcessed(1, 50, "half")
	s.Complete("done")

	cancel()
	<-stopped

	snap, err := store.Load(ctx, s.ID())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if snap.Phase != PhaseComplete || snap.ProgressPercent != 100 {
		t.Errorf("stored snapshot = %s/%d", snap.Phase, snap.ProgressPercent)
	}

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestRedisStore_KeepsLatestPerSession(t *testing.T) {
	store := NewRedisStore(nil, RedisConfig{Logger: testutil.DiscardLogger()})

	a := NewSession("a", WithObservers(store))
	b := NewSession("b", WithObservers(store))
	a.Start("go")
	b.Start("go")
	a.SetTotalBatches(1000)
	for i := 1; i <= 1000; i++ {
		a.AddProcessed(1, i*90/1000, "chunk done")
	}
	a.Complete("done")

	pending := store.takePending()
	if len(pending) != 2 {
		t.Fatalf("pending = %d snapshots, want one per session", len(pending))
	}
	if pending[0].ID != "a" || pending[0].Phase != PhaseComplete || pending[0].Counters.ProcessedBatches != 1000 {
		t.Errorf("session a pending = %s/%s/%d", pending[0].ID, pending[0].Phase, pending[0].Counters.ProcessedBatches)
	}
	if pending[1].ID != "b" || pending[1].Phase != PhaseRunning {
		t.Errorf("session b pending = %s/%s", pending[1].ID, pending[1].Phase)
	}
	if again := store.takePending(); len(again) != 0 {
		t.Errorf("second take = %d snapshots, want 0", len(again))
	}
}

func TestNATSPublisher(t *testing.T) {
	url := testutil.NATSURL(t)

	nc, err := ConnectNATS(NATSConfig{URL: url, Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("ConnectNATS() error = %v", err)
	}
	defer nc.Close()

	pub := NewNATSPublisher(nc, "enrich-test.progress", testutil.DiscardLogger())
	s := NewSession("")

	got := make(chan Snapshot, 16)
	sub, err := SubscribeProgress(nc, "enrich-test.progress", s.ID(), func(snap Snapshot) { got <- snap })
	if err != nil {
		t.Fatalf("SubscribeProgress() error = %v", err)
	}
	defer sub.Unsubscribe()
	nc.Flush()

	s.Subscribe(pub)
	s.Start("go")
	s.Complete("done")

	var last Snapshot
	timeout := time.After(5 * time.Second)
	for last.Phase != PhaseComplete {
		select {
		case last = <-got:
		case <-timeout:
			t.Fatalf("did not receive complete snapshot, last = %+v", last)
		}
	}
}

func TestSnapshotJSONContract(t *testing.T) {
	s := NewSession("job")
	s.Start("go")
	s.SetTotalBatches(4)

	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var doc map[string]any
	json.Unmarshal(data, &doc)

	for _, key := range []string{"phase", "progress_percent", "message", "counters", "log"} {
		if _, ok := doc[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
	counters, _ := doc["counters"].(map[string]any)
	for _, key := range []string{"processed_batches", "total_batches", "fixed_count", "error_count"} {
		if _, ok := counters[key]; !ok {
			t.Errorf("counters JSON missing %q", key)
		}
	}
}
