package endpoints

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/svcctx"
)

// ListJobsResponse is the response for listing jobs.
type ListJobsResponse struct {
	Jobs []*jobs.Record `json:"jobs"`
}

// Table renders one row per job.
func (r ListJobsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		rows = append(rows, []string{
			j.ID,
			string(j.Status),
			j.Provider,
			fmt.Sprint(j.Items),
			fmt.Sprintf("%d%%", j.Progress.ProgressPercent),
			j.Progress.Message,
		})
	}
	return []string{"ID", "STATUS", "PROVIDER", "ITEMS", "PROGRESS", "MESSAGE"}, rows
}

// ListJobsEndpoint handles GET /api/jobs.
type ListJobsEndpoint struct{}

func (e *ListJobsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs", e.handler
}

func (e *ListJobsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		List jobs
//	@Description	Jobs held in memory, oldest first, with optional status filter
//	@Tags			jobs
//	@Produce		json
//	@Param			status	query		string	false	"Filter by status"
//	@Success		200		{object}	ListJobsResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [get]
func (e *ListJobsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	status := jobs.Status(r.URL.Query().Get("status"))
	all := jm.List()
	resp := ListJobsResponse{Jobs: make([]*jobs.Record, 0, len(all))}
	for _, rec := range all {
		if status == "" || rec.Status == status {
			resp.Jobs = append(resp.Jobs, rec)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *ListJobsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/jobs"
			if status != "" {
				path += "?status=" + status
			}
			client := api.NewClient(getServerURL())
			var resp ListJobsResponse
			if err := client.Get(cmd.Context(), path, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (queued, running, completed, failed, cancelled)")
	return cmd
}
