// Package enrich runs batch enrichment jobs: items are chunked, sent to a
// completion service in waves, salvaged, gated and merged with fallback
// content so every item yields exactly one result.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/prompts"
	enrichprompt "github.com/jackzampolin/enrich/internal/prompts/enrich"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/salvage"
	"github.com/jackzampolin/enrich/internal/types"
)

var (
	// ErrNoItems is returned for an empty item list.
	ErrNoItems = errors.New("no items to enrich")
	// ErrInvalidItems is returned when item IDs are empty or repeated.
	ErrInvalidItems = errors.New("invalid items")
	// ErrInvalidOptions wraps option validation failures.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrStopped is returned when the session was stopped before completion.
	ErrStopped = errors.New("stopped")
)

// Config configures an Engine.
type Config struct {
	Client providers.CompletionClient

	// Resolver supplies prompt overrides. Nil uses the embedded prompts.
	Resolver *prompts.Resolver

	Logger *slog.Logger

	// Timer replaces the retry backoff timer (tests).
	Timer retry.Timer
}

// Engine runs enrichment jobs against one completion client.
// It holds no per-job state and may run jobs concurrently.
type Engine struct {
	client    providers.CompletionClient
	resolver  *prompts.Resolver
	validator *salvage.Validator
	salvager  *salvage.Salvager
	logger    *slog.Logger
	timer     retry.Timer
}

// New creates an Engine.
func New(cfg Config) (*Engine, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("completion client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	v, err := salvage.NewValidator()
	if err != nil {
		return nil, err
	}
	return &Engine{
		client:    cfg.Client,
		resolver:  cfg.Resolver,
		validator: v,
		salvager:  salvage.New(),
		logger:    cfg.Logger,
		timer:     cfg.Timer,
	}, nil
}

// Client returns the engine's completion client.
func (e *Engine) Client() providers.CompletionClient {
	return e.client
}

// Run enriches items and returns one result per item in input order.
//
// The session is started, advanced through 0-100% and completed on success.
// Job-level failures set the session to error and return no results. A
// session stopped before or during the run returns ErrStopped.
func (e *Engine) Run(ctx context.Context, items []types.Item, opts Options, session *progress.Session) ([]types.Result, error) {
	if session == nil {
		session = progress.NewSession("")
	}
	logger := e.logger.With("session", session.ID())

	if !session.Start("Preparing items") {
		if session.Stopped() {
			return nil, ErrStopped
		}
		return nil, fmt.Errorf("session %s is already %s", session.ID(), session.Phase())
	}

	if err := ValidateItems(items); err != nil {
		session.Fail(err.Error())
		return nil, err
	}
	opts = opts.WithDefaults()
	if err := opts.Validate(); err != nil {
		session.Fail(err.Error())
		return nil, err
	}

	chunks := ChunkItems(items, opts.BatchSize)
	session.SetTotalBatches(len(chunks))
	session.SetProgress(progressWavesStart, fmt.Sprintf("Prepared %d item(s) in %d chunk(s)", len(items), len(chunks)))
	logger.Info("enrichment started",
		"items", len(items),
		"chunks", len(chunks),
		"batch_size", opts.BatchSize,
		"concurrency", opts.Concurrency,
		"client", e.client.Name())

	rpm := opts.RequestsPerMinute
	if rpm == 0 {
		rpm = e.client.RequestsPerMinute()
	}
	sched := NewScheduler(SchedulerConfig{
		Client: e.client,
		Builder: enrichprompt.NewBuilder(enrichprompt.BuilderConfig{
			Resolver:    e.resolver,
			Model:       opts.Model,
			Temperature: opts.Temperature,
			MaxTokens:   opts.MaxTokens,
			Structured:  opts.Structured,
		}),
		Salvager:  e.salvager,
		Validator: e.validator,
		Limiter:   providers.NewRateLimiter(rpm),
		Options:   opts,
		Logger:    logger,
		Timer:     e.timer,
	})

	report, err := sched.Run(ctx, chunks, session)
	switch {
	case errors.Is(err, ErrStopped):
		logger.Info("enrichment stopped", "processed", session.Snapshot().Counters.ProcessedBatches)
		return nil, ErrStopped
	case err != nil:
		// A Stop that raced the cancel wins.
		if !session.Fail(fmt.Sprintf("Cancelled: %v", err)) {
			return nil, ErrStopped
		}
		return nil, err
	}

	if session.Stopped() {
		return nil, ErrStopped
	}

	session.SetProgress(progressMergeStart, "Merging results")
	results := Merge(items, report.Payloads, session)

	fallbackCount := 0
	for _, r := range results {
		if r.FallbackUsed {
			fallbackCount++
		}
	}
	if !session.Complete(fmt.Sprintf("Enriched %d item(s), %d with fallback content", len(results), fallbackCount)) {
		return nil, ErrStopped
	}
	logger.Info("enrichment complete", "items", len(results), "fallback", fallbackCount)
	return results, nil
}

// ValidateItems checks that items is non-empty and IDs are present and unique.
func ValidateItems(items []types.Item) error {
	if len(items) == 0 {
		return ErrNoItems
	}
	seen := make(map[string]int, len(items))
	var problems []string
	for i, item := range items {
		if strings.TrimSpace(item.ID) == "" {
			problems = append(problems, fmt.Sprintf("item %d has an empty id", i))
			continue
		}
		if prev, ok := seen[item.ID]; ok {
			problems = append(problems, fmt.Sprintf("items %d and %d share id %q", prev, i, item.ID))
			continue
		}
		seen[item.ID] = i
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidItems, strings.Join(problems, "; "))
	}
	return nil
}
