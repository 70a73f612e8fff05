package endpoints

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/svcctx"
)

// StopJobResponse is the response for stopping a job.
type StopJobResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// StopJobEndpoint handles POST /api/jobs/{id}/stop.
type StopJobEndpoint struct{}

func (e *StopJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs/{id}/stop", e.handler
}

func (e *StopJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Stop a job
//	@Description	The job finishes its current wave and ends without results
//	@Tags			jobs
//	@Produce		json
//	@Param			id	path		string	true	"Job ID"
//	@Success		202	{object}	StopJobResponse
//	@Failure		404	{object}	ErrorResponse
//	@Failure		409	{object}	ErrorResponse
//	@Router			/api/jobs/{id}/stop [post]
func (e *StopJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	if err := jm.Stop(id); err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobNotFound):
			writeError(w, http.StatusNotFound, "job not found")
		case errors.Is(err, jobs.ErrJobFinished):
			writeError(w, http.StatusConflict, "job already finished")
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, StopJobResponse{ID: id, Status: "stopping"})
}

func (e *StopJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Stop a running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StopJobResponse
			if err := client.Post(cmd.Context(), "/api/jobs/"+args[0]+"/stop", nil, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
