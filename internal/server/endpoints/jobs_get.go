package endpoints

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/svcctx"
)

// JobResponse is a job record with table output.
type JobResponse jobs.Record

// Table renders the record and its recent log lines.
func (r JobResponse) Table() ([]string, [][]string) {
	rows := [][]string{
		{"id", r.ID},
		{"status", string(r.Status)},
		{"provider", r.Provider},
		{"items", fmt.Sprint(r.Items)},
		{"progress", fmt.Sprintf("%d%% %s", r.Progress.ProgressPercent, r.Progress.Message)},
		{"batches", fmt.Sprintf("%d/%d", r.Progress.Counters.ProcessedBatches, r.Progress.Counters.TotalBatches)},
		{"fixed", fmt.Sprint(r.Progress.Counters.FixedCount)},
		{"errors", fmt.Sprint(r.Progress.Counters.ErrorCount)},
	}
	if r.Error != "" {
		rows = append(rows, []string{"error", r.Error})
	}
	for _, entry := range r.Progress.Log {
		rows = append(rows, []string{entry.Time.Format(time.TimeOnly), entry.Message})
	}
	return []string{"FIELD", "VALUE"}, rows
}

// GetJobEndpoint handles GET /api/jobs/{id}.
type GetJobEndpoint struct{}

func (e *GetJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}", e.handler
}

func (e *GetJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job by ID
//	@Description	Job record with its progress snapshot
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	JobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		503	{object}	ErrorResponse
//	@Router			/api/jobs/{id} [get]
func (e *GetJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "job id is required")
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	rec, err := jm.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, JobResponse(*rec))
}

func (e *GetJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a job by ID",
		Long: `Get a job's status and progress.

With --watch, progress lines are printed until the job finishes.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := api.NewClient(getServerURL())
			if watch {
				rec, err := pollJob(ctx, client, args[0], interval)
				if err != nil {
					return err
				}
				return api.Output(JobResponse(*rec))
			}
			var resp JobResponse
			if err := client.Get(ctx, "/api/jobs/"+args[0], &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "poll until the job finishes")
	cmd.Flags().DurationVar(&interval, "poll", time.Second, "poll interval with --watch")
	return cmd
}

// pollJob polls a job until it reaches a terminal status, printing each
// new progress message to stderr.
func pollJob(ctx context.Context, client *api.Client, id string, interval time.Duration) (*jobs.Record, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastMessage := ""
	for {
		var resp JobResponse
		if err := client.Get(ctx, "/api/jobs/"+id, &resp); err != nil {
			return nil, err
		}
		if resp.ID == "" {
			return nil, fmt.Errorf("empty response for job %s", id)
		}
		if msg := resp.Progress.Message; msg != "" && msg != lastMessage {
			fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", resp.Progress.ProgressPercent, strings.TrimSpace(msg))
			lastMessage = msg
		}
		if resp.Status.Terminal() {
			rec := jobs.Record(resp)
			return &rec, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
