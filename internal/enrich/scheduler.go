package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/sync/errgroup"

	"github.com/jackzampolin/enrich/internal/progress"
	enrichprompt "github.com/jackzampolin/enrich/internal/prompts/enrich"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/quality"
	"github.com/jackzampolin/enrich/internal/salvage"
	"github.com/jackzampolin/enrich/internal/types"
)

// Progress range owned by the scheduler.
const (
	progressWavesStart = 10
	progressWavesEnd   = 85
)

// Collected is an accepted service payload and the tier that produced it.
type Collected struct {
	Payload types.Payload
	Source  types.Source
}

// ChunkReport summarizes how one chunk went.
type ChunkReport struct {
	Index    int
	Outcome  Outcome
	Stage    salvage.Stage
	Attempts int
	// Missing lists items the chunk request did not deliver.
	Missing []string
	// Recovered counts missing items delivered by single-item resubmission.
	Recovered int
	Err       error
}

// Failed reports whether the chunk-level request failed.
func (r ChunkReport) Failed() bool {
	return r.Outcome != OutcomeSuccess
}

// Report is the outcome of a scheduler run.
type Report struct {
	Payloads map[string]Collected
	Chunks   []ChunkReport
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	Client    providers.CompletionClient
	Builder   *enrichprompt.Builder
	Salvager  *salvage.Salvager
	Validator *salvage.Validator
	Limiter   *providers.RateLimiter
	Options   Options
	Logger    *slog.Logger

	// Timer replaces the retry backoff timer (tests).
	Timer retry.Timer
}

// Scheduler sends chunks in sequential waves of concurrent requests.
type Scheduler struct {
	client    providers.CompletionClient
	builder   *enrichprompt.Builder
	salvager  *salvage.Salvager
	validator *salvage.Validator
	limiter   *providers.RateLimiter
	opts      Options
	logger    *slog.Logger
	timer     retry.Timer
}

// NewScheduler creates a Scheduler. Options are used as given.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Builder == nil {
		cfg.Builder = enrichprompt.NewBuilder(enrichprompt.BuilderConfig{
			Model:       cfg.Options.Model,
			Temperature: cfg.Options.Temperature,
			MaxTokens:   cfg.Options.MaxTokens,
			Structured:  cfg.Options.Structured,
		})
	}
	if cfg.Salvager == nil {
		cfg.Salvager = salvage.New()
	}
	if cfg.Validator == nil {
		cfg.Validator = salvage.MustValidator()
	}
	return &Scheduler{
		client:    cfg.Client,
		builder:   cfg.Builder,
		salvager:  cfg.Salvager,
		validator: cfg.Validator,
		limiter:   cfg.Limiter,
		opts:      cfg.Options,
		logger:    cfg.Logger,
		timer:     cfg.Timer,
	}
}

// Run processes chunks wave by wave. Before each wave it checks ctx and the
// session; a stopped session returns ErrStopped after the in-flight wave.
func (s *Scheduler) Run(ctx context.Context, chunks []Chunk, session *progress.Session) (*Report, error) {
	report := &Report{
		Payloads: make(map[string]Collected),
		Chunks:   make([]ChunkReport, 0, len(chunks)),
	}
	ws := waves(chunks, s.opts.Concurrency)

	for w, wave := range ws {
		if w > 0 && s.opts.InterWavePace > 0 {
			if err := sleepContext(ctx, s.opts.InterWavePace); err != nil {
				return nil, err
			}
		}
		if session.Stopped() {
			s.logger.Info("stop requested, skipping remaining waves", "wave", w+1, "waves", len(ws))
			return nil, ErrStopped
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		reports, payloads, err := s.runWave(ctx, wave)
		if err != nil {
			return nil, err
		}

		var failed, recovered int
		for _, r := range reports {
			if r.Failed() {
				failed++
			}
			recovered += r.Recovered
		}
		for id, c := range payloads {
			report.Payloads[id] = c
		}
		report.Chunks = append(report.Chunks, reports...)

		if failed > 0 {
			session.AddErrors(failed)
		}
		if recovered > 0 {
			session.AddFixed(recovered)
		}
		percent := progressWavesStart + (progressWavesEnd-progressWavesStart)*(w+1)/len(ws)
		session.AddProcessed(len(wave), percent, waveMessage(w+1, len(ws), len(wave), failed, recovered))
	}
	return report, nil
}

func waveMessage(wave, total, chunks, failed, recovered int) string {
	msg := fmt.Sprintf("Wave %d/%d done: %d chunk(s)", wave, total, chunks)
	if failed > 0 {
		msg += fmt.Sprintf(", %d failed", failed)
	}
	if recovered > 0 {
		msg += fmt.Sprintf(", %d item(s) recovered individually", recovered)
	}
	return msg
}

// runWave processes one wave on an errgroup limited to the wave size.
func (s *Scheduler) runWave(ctx context.Context, wave []Chunk) ([]ChunkReport, map[string]Collected, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)

	var mu sync.Mutex
	reports := make([]ChunkReport, len(wave))
	payloads := make(map[string]Collected)

	for i, chunk := range wave {
		g.Go(func() error {
			r, got := s.processChunk(gctx, chunk)
			mu.Lock()
			reports[i] = r
			for id, c := range got {
				payloads[id] = c
			}
			mu.Unlock()
			// Only cancellation aborts the wave; chunk failures are reported.
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return reports, payloads, nil
}

// processChunk runs the chunk tier and then resubmits whatever the chunk did
// not deliver, one item at a time.
func (s *Scheduler) processChunk(ctx context.Context, chunk Chunk) (ChunkReport, map[string]Collected) {
	log := s.logger.With("chunk", chunk.Index, "items", len(chunk.Items))
	got := make(map[string]Collected, len(chunk.Items))

	res := s.runTier(ctx, chunk.Items, s.opts.MaxRetryAttempts, log)
	report := ChunkReport{
		Index:    chunk.Index,
		Outcome:  res.outcome,
		Stage:    res.stage,
		Attempts: res.attempts,
		Err:      res.err,
	}

	for _, item := range chunk.Items {
		p, ok := res.payloads[item.ID]
		if ok {
			got[item.ID] = Collected{Payload: p, Source: types.SourceAI}
		}
		if !ok || quality.Check(item, &p).Whole {
			report.Missing = append(report.Missing, item.ID)
		}
	}

	if res.outcome == OutcomeSuccess {
		log.Debug("chunk delivered", "attempts", res.attempts, "stage", res.stage, "missing", len(report.Missing))
	} else {
		log.Warn("chunk failed", "outcome", res.outcome, "attempts", res.attempts, "error", res.err)
	}

	if len(report.Missing) == 0 || ctx.Err() != nil {
		return report, got
	}

	for _, item := range chunk.Items {
		if !contains(report.Missing, item.ID) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		single := s.runTier(ctx, []types.Item{item}, s.opts.SingleItemAttempts, log.With("item", item.ID))
		p, ok := single.payloads[item.ID]
		if !ok || quality.Check(item, &p).Whole {
			log.Debug("single-item resubmission failed", "item", item.ID, "outcome", single.outcome)
			continue
		}
		got[item.ID] = Collected{Payload: p, Source: types.SourceSingle}
		report.Recovered++
	}
	if report.Recovered > 0 {
		log.Info("recovered items individually", "recovered", report.Recovered, "missing", len(report.Missing))
	}
	return report, got
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// tierResult is the final state of one retry loop.
type tierResult struct {
	outcome  Outcome
	stage    salvage.Stage
	payloads map[string]types.Payload
	attempts int
	err      error
}

// runTier sends items until success, a terminal outcome, or an exhausted
// budget. Transient and rate-limited attempts are counted separately.
func (s *Scheduler) runTier(ctx context.Context, items []types.Item, transientBudget int, log *slog.Logger) tierResult {
	var (
		res       tierResult
		transient int
		limited   int
	)
	res.outcome = OutcomeFatal

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(uint(transientBudget + s.opts.RateLimitAttempts)),
		retry.RetryIf(retry.IsRecoverable),
		retry.LastErrorOnly(true),
		retry.DelayType(func(_ uint, err error, _ *retry.Config) time.Duration {
			return s.backoff(err, res.attempts)
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Debug("retrying request", "attempt", n+1, "error", err)
		}),
	}
	if s.timer != nil {
		opts = append(opts, retry.WithTimer(s.timer))
	}

	err := retry.Do(func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			res.outcome = OutcomeFatal
			return retry.Unrecoverable(err)
		}
		res.attempts++

		payloads, stage, aerr := s.attempt(ctx, items)
		if aerr == nil {
			res.outcome, res.stage, res.payloads = OutcomeSuccess, stage, payloads
			return nil
		}
		res.outcome = aerr.outcome

		switch aerr.outcome {
		case OutcomeTransient:
			transient++
			if transient >= transientBudget {
				return retry.Unrecoverable(aerr)
			}
			return aerr
		case OutcomeRateLimited:
			limited++
			s.limiter.Record429(aerr.retryAfter)
			if limited >= s.opts.RateLimitAttempts {
				return retry.Unrecoverable(aerr)
			}
			return aerr
		default:
			return retry.Unrecoverable(aerr)
		}
	}, opts...)

	if err != nil {
		res.err = err
		if ctx.Err() != nil {
			res.outcome = OutcomeFatal
		}
	}
	return res
}

// backoff returns the wait before the next attempt: the upstream hint when
// one was given, else BaseDelay doubled per attempt and capped at MaxDelay.
func (s *Scheduler) backoff(err error, attempts int) time.Duration {
	var aerr *attemptError
	if errors.As(err, &aerr) && aerr.retryAfter > 0 {
		return aerr.retryAfter
	}
	delay := s.opts.BaseDelay
	for i := 1; i < attempts && delay < s.opts.MaxDelay; i++ {
		delay *= 2
	}
	if s.opts.MaxDelay > 0 && delay > s.opts.MaxDelay {
		delay = s.opts.MaxDelay
	}
	return delay
}

// attempt sends one request and decodes the response.
func (s *Scheduler) attempt(ctx context.Context, items []types.Item) (map[string]types.Payload, salvage.Stage, *attemptError) {
	req, err := s.builder.Build(items)
	if err != nil {
		return nil, salvage.StageNone, newAttemptError(OutcomeFatal, err)
	}
	if s.opts.TokenBudgetHint > 0 {
		req.MaxTokens = s.opts.TokenBudgetHint * len(items)
	}

	callCtx := ctx
	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	comp, err := s.client.Send(callCtx, req)
	if err != nil {
		return nil, salvage.StageNone, classifySendError(ctx, err)
	}
	if comp == nil {
		return nil, salvage.StageNone, newAttemptError(OutcomeTransient, fmt.Errorf("empty completion"))
	}
	if !comp.OK() {
		return nil, salvage.StageNone, classifyCompletion(comp)
	}

	out := s.salvager.Salvage(comp.RawText)
	if !out.OK() {
		return nil, salvage.StageNone, newAttemptError(OutcomeUnsalvageable,
			fmt.Errorf("no structured result in %d bytes of output (request %s)", len(comp.RawText), comp.RequestID))
	}

	want := make(map[string]bool, len(items))
	for _, item := range items {
		want[item.ID] = true
	}
	decoded := s.validator.Decode(out.Envelope, want)
	for _, rej := range decoded.Rejected {
		s.logger.Debug("dropped results entry", "index", rej.Index, "id", rej.ID, "error", rej.Err)
	}
	if len(decoded.Payloads) == 0 {
		return nil, out.Stage, newAttemptError(OutcomeUnsalvageable,
			fmt.Errorf("no valid entries among %d results (request %s)", len(out.Envelope.Results), comp.RequestID))
	}
	return decoded.Payloads, out.Stage, nil
}

// sleepContext sleeps for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
