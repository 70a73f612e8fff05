package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/server/endpoints"
	"github.com/jackzampolin/enrich/internal/testutil"
	"github.com/jackzampolin/enrich/internal/types"
)

// newTestServer returns an initialized server backed by a mock provider.
func newTestServer(t *testing.T) (*Server, *httptest.Server, *providers.MockClient) {
	t.Helper()

	mock := providers.NewMockClient()
	mock.Latency = 0
	registry := providers.NewRegistry()
	registry.Register("mock", mock)

	srv, err := New(Config{Registry: registry, Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := srv.initServices(context.Background()); err != nil {
		t.Fatalf("initServices() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.JobManager().Shutdown(context.Background())
		srv.closeSinks()
	})
	return srv, ts, mock
}

func doJSON(t *testing.T, method, url string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil {
		json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

func waitForStatus(t *testing.T, base, id string) endpoints.JobResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var rec endpoints.JobResponse
		if code := doJSON(t, "GET", base+"/api/jobs/"+id, nil, &rec); code != http.StatusOK {
			t.Fatalf("GET job status = %d", code)
		}
		if rec.Status.Terminal() {
			return rec
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", id)
	return endpoints.JobResponse{}
}

func TestJobsAPI(t *testing.T) {
	_, ts, mock := newTestServer(t)
	items := testutil.Items(7)

	var started endpoints.StartJobResponse
	code := doJSON(t, "POST", ts.URL+"/api/jobs", endpoints.StartJobRequest{
		ID:       "job-api",
		Items:    items,
		Provider: "mock",
	}, &started)
	if code != http.StatusAccepted || started.ID != "job-api" {
		t.Fatalf("start = %d %+v", code, started)
	}

	rec := waitForStatus(t, ts.URL, started.ID)
	if rec.Status != jobs.StatusCompleted {
		t.Fatalf("status = %s (%s)", rec.Status, rec.Error)
	}
	if rec.Progress.ProgressPercent != 100 || rec.Progress.Counters.TotalBatches != 2 {
		t.Errorf("progress = %+v", rec.Progress)
	}
	if mock.RequestCount() != 2 {
		t.Errorf("requests = %d, want 2", mock.RequestCount())
	}

	t.Run("results", func(t *testing.T) {
		var resp endpoints.ResultsResponse
		if code := doJSON(t, "GET", ts.URL+"/api/jobs/job-api/results", nil, &resp); code != http.StatusOK {
			t.Fatalf("results status = %d", code)
		}
		if len(resp.Results) != len(items) {
			t.Fatalf("got %d results, want %d", len(resp.Results), len(items))
		}
		for i, r := range resp.Results {
			if r.ID != items[i].ID {
				t.Errorf("result %d id = %s, want %s", i, r.ID, items[i].ID)
			}
			if r.Status != types.StatusOK || r.Source != types.SourceAI {
				t.Errorf("result %s = %s/%s", r.ID, r.Status, r.Source)
			}
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		code := doJSON(t, "POST", ts.URL+"/api/jobs", endpoints.StartJobRequest{ID: "job-api", Items: items, Provider: "mock"}, nil)
		if code != http.StatusConflict {
			t.Errorf("status = %d, want 409", code)
		}
	})

	t.Run("stop finished job", func(t *testing.T) {
		if code := doJSON(t, "POST", ts.URL+"/api/jobs/job-api/stop", nil, nil); code != http.StatusConflict {
			t.Errorf("status = %d, want 409", code)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		if rec.Usage == nil || rec.Usage.Count != 2 {
			t.Errorf("usage = %+v", rec.Usage)
		}
		var resp endpoints.MetricsResponse
		if code := doJSON(t, "GET", ts.URL+"/api/metrics?job=job-api", nil, &resp); code != http.StatusOK {
			t.Fatalf("metrics status = %d", code)
		}
		if resp.Total == nil || resp.Total.Count != 2 || resp.Total.Items != len(items) {
			t.Errorf("total = %+v", resp.Total)
		}
		if p := resp.Providers["mock"]; p == nil || p.SuccessCount != 2 {
			t.Errorf("providers = %+v", resp.Providers)
		}
	})

	t.Run("list", func(t *testing.T) {
		var resp endpoints.ListJobsResponse
		doJSON(t, "GET", ts.URL+"/api/jobs?status=completed", nil, &resp)
		if len(resp.Jobs) != 1 || resp.Jobs[0].ID != "job-api" {
			t.Errorf("jobs = %+v", resp.Jobs)
		}
		doJSON(t, "GET", ts.URL+"/api/jobs?status=running", nil, &resp)
		if len(resp.Jobs) != 0 {
			t.Errorf("running jobs = %d, want 0", len(resp.Jobs))
		}
	})
}

func TestJobsAPI_Errors(t *testing.T) {
	_, ts, _ := newTestServer(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"no items", "POST", "/api/jobs", endpoints.StartJobRequest{Provider: "mock"}, http.StatusBadRequest},
		{"duplicate item ids", "POST", "/api/jobs", endpoints.StartJobRequest{
			Provider: "mock",
			Items:    []types.Item{{ID: "a", Content: "x"}, {ID: "a", Content: "y"}},
		}, http.StatusBadRequest},
		{"unknown provider", "POST", "/api/jobs", endpoints.StartJobRequest{Provider: "nope", Items: testutil.Items(1)}, http.StatusBadRequest},
		{"bad body", "POST", "/api/jobs", "not an object", http.StatusBadRequest},
		{"missing job", "GET", "/api/jobs/missing", nil, http.StatusNotFound},
		{"missing results", "GET", "/api/jobs/missing/results", nil, http.StatusNotFound},
		{"stop missing", "POST", "/api/jobs/missing/stop", nil, http.StatusNotFound},
		{"missing prompt", "GET", "/api/prompts/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp endpoints.ErrorResponse
			code := doJSON(t, tt.method, ts.URL+tt.path, tt.body, &errResp)
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
			if errResp.Error == "" {
				t.Error("expected error message")
			}
		})
	}
}

func TestJobsAPI_RejectedStartIsFailedJob(t *testing.T) {
	_, ts, _ := newTestServer(t)

	var errResp endpoints.ErrorResponse
	code := doJSON(t, "POST", ts.URL+"/api/jobs", endpoints.StartJobRequest{ID: "empty-job", Provider: "mock"}, &errResp)
	if code != http.StatusBadRequest || errResp.ID != "empty-job" {
		t.Fatalf("start = %d %+v", code, errResp)
	}

	var rec jobs.Record
	if code := doJSON(t, "GET", ts.URL+"/api/jobs/empty-job", nil, &rec); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if rec.Status != jobs.StatusFailed || rec.Progress.Phase != progress.PhaseError || rec.Progress.Message == "" {
		t.Errorf("record = %s/%s/%q", rec.Status, rec.Progress.Phase, rec.Progress.Message)
	}
}

func TestJobsAPI_StopRunning(t *testing.T) {
	_, ts, mock := newTestServer(t)

	release := make(chan struct{})
	mock.Respond = func(ctx context.Context, call int64, req *providers.BatchRequest) (*providers.Completion, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return providers.MockCompletion(providers.GeneratePayloadJSON(req.Items)), nil
	}

	var started endpoints.StartJobResponse
	doJSON(t, "POST", ts.URL+"/api/jobs", endpoints.StartJobRequest{Items: testutil.Items(20), Provider: "mock"}, &started)

	// Results are not available while the job runs.
	if code := doJSON(t, "GET", ts.URL+"/api/jobs/"+started.ID+"/results", nil, nil); code != http.StatusConflict {
		t.Errorf("results while running = %d, want 409", code)
	}

	var stopped endpoints.StopJobResponse
	if code := doJSON(t, "POST", ts.URL+"/api/jobs/"+started.ID+"/stop", nil, &stopped); code != http.StatusAccepted {
		t.Fatalf("stop status = %d", code)
	}
	close(release)

	rec := waitForStatus(t, ts.URL, started.ID)
	if rec.Status != jobs.StatusCancelled {
		t.Errorf("status = %s, want cancelled", rec.Status)
	}
	if code := doJSON(t, "GET", ts.URL+"/api/jobs/"+started.ID+"/results", nil, nil); code != http.StatusConflict {
		t.Errorf("results after stop = %d, want 409", code)
	}
}

func TestPromptsAndSettingsAPI(t *testing.T) {
	_, ts, _ := newTestServer(t)

	var list endpoints.PromptsListResponse
	if code := doJSON(t, "GET", ts.URL+"/api/prompts", nil, &list); code != http.StatusOK {
		t.Fatalf("prompts status = %d", code)
	}
	if len(list.Prompts) != 2 {
		t.Errorf("got %d prompts, want 2", len(list.Prompts))
	}

	var settings endpoints.SettingsResponse
	if code := doJSON(t, "GET", ts.URL+"/api/settings", nil, &settings); code != http.StatusOK {
		t.Fatalf("settings status = %d", code)
	}
	if len(settings.Settings) == 0 {
		t.Error("expected settings")
	}
}

func TestRequireInit(t *testing.T) {
	srv, err := New(Config{Logger: testutil.DiscardLogger()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	if code := doJSON(t, "GET", ts.URL+"/api/jobs", nil, nil); code != http.StatusServiceUnavailable {
		t.Errorf("jobs before init = %d, want 503", code)
	}
	if code := doJSON(t, "GET", ts.URL+"/health", nil, nil); code != http.StatusOK {
		t.Errorf("health before init = %d, want 200", code)
	}
	var status endpoints.StatusResponse
	doJSON(t, "GET", ts.URL+"/status", nil, &status)
	if status.Server != "initializing" {
		t.Errorf("status.Server = %q, want initializing", status.Server)
	}
}

func TestServer_CloseSinksStopsLoops(t *testing.T) {
	for i := 0; i < 10; i++ {
		registry := providers.NewRegistry()
		registry.Register("mock", providers.NewMockClient())
		srv, err := New(Config{Registry: registry, Logger: testutil.DiscardLogger()})
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		if err := srv.initServices(context.Background()); err != nil {
			t.Fatalf("initServices() error = %v", err)
		}
		if srv.stopLoops == nil {
			t.Fatal("initServices() did not set a loop cancel func")
		}
		srv.closeSinks()
		srv.closeSinks()
	}
}
