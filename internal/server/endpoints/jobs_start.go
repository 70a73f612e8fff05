package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/config"
	"github.com/jackzampolin/enrich/internal/enrich"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/svcctx"
	"github.com/jackzampolin/enrich/internal/types"
)

// maxStartBody bounds POST /api/jobs request bodies.
const maxStartBody = 32 << 20

// StartJobRequest is the request body for starting a job.
type StartJobRequest struct {
	ID       string           `json:"id,omitempty"`
	Items    []types.Item     `json:"items"`
	Provider string           `json:"provider,omitempty"`
	Options  config.EnrichCfg `json:"options,omitempty"`
}

// StartJobResponse is the response for starting a job.
type StartJobResponse struct {
	ID string `json:"id"`
}

// StartJobEndpoint handles POST /api/jobs.
type StartJobEndpoint struct{}

func (e *StartJobEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/jobs", e.handler
}

func (e *StartJobEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Start an enrichment job
//	@Description	Validate items and run the job in the background
//	@Tags			jobs
//	@Accept			json
//	@Produce		json
//	@Param			request	body		StartJobRequest	true	"Items and options"
//	@Success		202		{object}	StartJobResponse
//	@Failure		400		{object}	ErrorResponse
//	@Failure		409		{object}	ErrorResponse
//	@Failure		503		{object}	ErrorResponse
//	@Router			/api/jobs [post]
func (e *StartJobEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxStartBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	jm := svcctx.JobManagerFrom(r.Context())
	if jm == nil {
		writeError(w, http.StatusServiceUnavailable, "job manager not initialized")
		return
	}

	id, err := jm.Start(r.Context(), jobs.StartRequest{
		ID:       req.ID,
		Items:    req.Items,
		Provider: req.Provider,
		Options:  req.Options.Options(),
	})
	if err != nil {
		switch {
		case errors.Is(err, jobs.ErrJobExists):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, enrich.ErrNoItems),
			errors.Is(err, enrich.ErrInvalidItems),
			errors.Is(err, jobs.ErrUnknownProvider),
			errors.Is(err, enrich.ErrInvalidOptions):
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error(), ID: id})
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, StartJobResponse{ID: id})
}

func (e *StartJobEndpoint) Command(getServerURL func() string) *cobra.Command {
	var (
		file     string
		id       string
		provider string
		opts     config.EnrichCfg
		wait     bool
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start an enrichment job",
		Long: `Start an enrichment job from a JSON or YAML items file.

The file holds a list of items, or an object with an "items" list.
Use "-" to read from stdin. Unset options use the server's defaults.

Examples:
  enrich api jobs start -f items.json
  enrich api jobs start -f items.yaml --provider openai --batch-size 10
  enrich api jobs start -f items.json --wait -o table`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			items, err := jobs.ReadItemsFile(file)
			if err != nil {
				return err
			}

			client := api.NewClient(getServerURL())
			var resp StartJobResponse
			req := StartJobRequest{ID: id, Items: items, Provider: provider, Options: opts}
			if err := client.Post(ctx, "/api/jobs", req, &resp); err != nil {
				return err
			}
			if !wait {
				return api.Output(resp)
			}

			fmt.Fprintf(os.Stderr, "Started job %s\n", resp.ID)
			rec, err := pollJob(ctx, client, resp.ID, interval)
			if err != nil {
				return err
			}
			if rec.Status != jobs.StatusCompleted {
				return fmt.Errorf("job %s %s: %s", rec.ID, rec.Status, rec.Error)
			}
			var results ResultsResponse
			if err := client.Get(ctx, "/api/jobs/"+resp.ID+"/results", &results); err != nil {
				return err
			}
			return api.Output(results)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "items file (JSON or YAML, - for stdin)")
	cmd.Flags().StringVar(&id, "id", "", "job ID (generated when empty)")
	cmd.Flags().StringVar(&provider, "provider", "", "provider name (default from config)")
	cmd.Flags().BoolVar(&wait, "wait", false, "wait for the job and print its results")
	cmd.Flags().DurationVar(&interval, "poll", time.Second, "poll interval with --wait")
	BindOptionFlags(cmd, &opts)
	cmd.MarkFlagRequired("file")
	return cmd
}

// BindOptionFlags registers per-job option overrides. Zero values keep the
// configured defaults.
func BindOptionFlags(cmd *cobra.Command, opts *config.EnrichCfg) {
	f := cmd.Flags()
	f.IntVar(&opts.BatchSize, "batch-size", 0, "items per request")
	f.IntVar(&opts.Concurrency, "concurrency", 0, "requests in flight per wave")
	f.IntVar(&opts.MaxRetryAttempts, "max-retries", 0, "attempts per chunk for transient failures")
	f.IntVar(&opts.RateLimitAttempts, "rate-limit-attempts", 0, "attempts per chunk for rate-limit responses")
	f.IntVar(&opts.SingleItemAttempts, "single-item-attempts", 0, "attempts for single-item resubmission")
	f.Float64Var(&opts.InterWavePaceSeconds, "pace", 0, "seconds between waves (max 5)")
	f.Float64Var(&opts.RequestTimeoutSeconds, "request-timeout", 0, "seconds per completion call")
	f.IntVar(&opts.TokenBudgetHint, "tokens-per-item", 0, "completion token budget per item")
	f.IntVar(&opts.RequestsPerMinute, "rpm", 0, "request rate cap (0 uses the provider limit)")
	f.StringVar(&opts.Model, "model", "", "model override")
	f.Float64Var(&opts.Temperature, "temperature", 0, "sampling temperature")
	f.BoolVar(&opts.Structured, "structured", false, "request schema-constrained output")
}
