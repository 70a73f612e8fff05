package endpoints

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/metrics"
	"github.com/jackzampolin/enrich/internal/svcctx"
)

// MetricsResponse summarizes completion calls, overall and per provider.
type MetricsResponse struct {
	Total     *metrics.Summary            `json:"total"`
	Providers map[string]*metrics.Summary `json:"providers,omitempty"`
}

// Table renders one row per provider followed by the total.
func (r MetricsResponse) Table() ([]string, [][]string) {
	names := make([]string, 0, len(r.Providers))
	for name := range r.Providers {
		names = append(names, name)
	}
	sort.Strings(names)

	row := func(name string, s *metrics.Summary) []string {
		return []string{
			name,
			fmt.Sprint(s.Count),
			fmt.Sprint(s.ErrorCount),
			fmt.Sprint(s.Items),
			fmt.Sprint(s.TotalTokens),
			fmt.Sprintf("%.2fs", s.LatencyP50),
			fmt.Sprintf("%.2fs", s.LatencyP95),
		}
	}
	rows := make([][]string, 0, len(names)+1)
	for _, name := range names {
		rows = append(rows, row(name, r.Providers[name]))
	}
	if r.Total != nil {
		rows = append(rows, row("total", r.Total))
	}
	return []string{"PROVIDER", "CALLS", "ERRORS", "ITEMS", "TOKENS", "P50", "P95"}, rows
}

// MetricsEndpoint handles GET /api/metrics.
type MetricsEndpoint struct{}

func (e *MetricsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/metrics", e.handler
}

func (e *MetricsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Completion metrics
//	@Description	Call counts, tokens and latency of completion requests
//	@Tags			metrics
//	@Produce		json
//	@Param			job			query		string	false	"Filter by job ID"
//	@Param			provider	query		string	false	"Filter by provider"
//	@Success		200			{object}	MetricsResponse
//	@Failure		503			{object}	ErrorResponse
//	@Router			/api/metrics [get]
func (e *MetricsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	q := r.URL.Query()
	f := metrics.Filter{JobID: q.Get("job"), Provider: q.Get("provider")}
	rec := jm.Metrics()
	writeJSON(w, http.StatusOK, MetricsResponse{
		Total:     rec.Summary(f),
		Providers: rec.ByProvider(f),
	})
}

func (e *MetricsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var job, provider string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show completion call metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if job != "" {
				q.Set("job", job)
			}
			if provider != "" {
				q.Set("provider", provider)
			}
			path := "/api/metrics"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			client := api.NewClient(getServerURL())
			var resp MetricsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "only calls made by this job")
	cmd.Flags().StringVar(&provider, "provider", "", "only calls to this provider")
	return cmd
}
