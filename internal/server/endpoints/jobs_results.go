package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/svcctx"
	"github.com/jackzampolin/enrich/internal/types"
)

// ResultsResponse holds the results of a completed job in input order.
type ResultsResponse struct {
	ID      string         `json:"id"`
	Results []types.Result `json:"results"`
}

// Table renders one row per result.
func (r ResultsResponse) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(r.Results))
	for _, res := range r.Results {
		fallback := "-"
		if res.FallbackUsed {
			fallback = strings.Join(res.FallbackFields, ",")
		}
		rows = append(rows, []string{
			res.ID,
			string(res.Status),
			string(res.Source),
			res.Answer,
			fallback,
			res.Explanation,
		})
	}
	return []string{"ID", "STATUS", "SOURCE", "ANSWER", "FALLBACK", "EXPLANATION"}, rows
}

// JobResultsEndpoint handles GET /api/jobs/{id}/results.
type JobResultsEndpoint struct{}

func (e *JobResultsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/jobs/{id}/results", e.handler
}

func (e *JobResultsEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Get job results
//	@Description	One result per submitted item, in input order
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		200	{object}	ResultsResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/results [get]
func (e *JobResultsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	results, err := jm.Results(id)
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrNotComplete), errors.Is(err, jobs.ErrNoResults):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, ResultsResponse{ID: id, Results: results})
}

func (e *JobResultsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var save string
	cmd := &cobra.Command{
		Use:   "results <id>",
		Short: "Get the results of a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp ResultsResponse
			if err := client.Get(cmd.Context(), "/api/jobs/"+args[0]+"/results", &resp); err != nil {
				return err
			}
			if save != "" {
				if err := writeResultsFile(save, resp); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Saved %d result(s) to %s\n", len(resp.Results), save)
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&save, "save", "", "write results JSON to this file")
	return cmd
}

// writeResultsFile writes results as indented JSON, creating parent dirs.
func writeResultsFile(path string, resp ResultsResponse) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
