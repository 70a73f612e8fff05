// Package jobs runs enrichment jobs in the background and keeps their
// progress and results until they expire.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/jackzampolin/enrich/internal/enrich"
	"github.com/jackzampolin/enrich/internal/metrics"
	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/prompts"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/types"
)

var (
	ErrJobNotFound     = errors.New("job not found")
	ErrJobExists       = errors.New("job already exists")
	ErrJobFinished     = errors.New("job already finished")
	ErrNotComplete     = errors.New("job has not completed")
	ErrNoResults       = errors.New("job produced no results")
	ErrUnknownProvider = errors.New("unknown provider")
)

const (
	DefaultResultTTL     = time.Hour
	DefaultSweepInterval = time.Minute
)

// Manager starts enrichment jobs asynchronously and tracks them in memory.
// Sessions live in a progress.Registry owned by the manager; results are
// kept with the job until the TTL sweep removes both.
type Manager struct {
	mu   sync.RWMutex
	jobs map[string]*job

	providers       *providers.Registry
	defaultProvider string
	resolver        *prompts.Resolver
	sessions        *progress.Registry
	store           *progress.RedisStore
	metrics         *metrics.Recorder
	defaults        enrich.Options
	ttl             time.Duration
	sweepInterval   time.Duration
	logger          *slog.Logger
	timer           retry.Timer // tests

	wg sync.WaitGroup
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Providers       *providers.Registry
	DefaultProvider string

	// Resolver supplies prompt overrides (optional).
	Resolver *prompts.Resolver

	// Sessions is created when nil.
	Sessions *progress.Registry

	// Store, when set, answers Get for jobs that were already swept.
	Store *progress.RedisStore

	// Metrics records every completion call; created when nil.
	Metrics *metrics.Recorder

	// Defaults are merged into each request's options.
	Defaults enrich.Options

	TTL           time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// NewManager creates a job manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Providers == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sessions == nil {
		cfg.Sessions = progress.NewRegistry(progress.RegistryConfig{Logger: cfg.Logger})
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewRecorder(0)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultResultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	return &Manager{
		jobs:            make(map[string]*job),
		providers:       cfg.Providers,
		defaultProvider: cfg.DefaultProvider,
		resolver:        cfg.Resolver,
		sessions:        cfg.Sessions,
		store:           cfg.Store,
		metrics:         cfg.Metrics,
		defaults:        cfg.Defaults,
		ttl:             cfg.TTL,
		sweepInterval:   cfg.SweepInterval,
		logger:          cfg.Logger,
	}, nil
}

// Start validates the request and runs the job in the background.
// Returns the job ID.
//
// A request that fails validation still gets a job: its session ends in the
// error phase with the reason, and Start returns the job ID with the error.
func (m *Manager) Start(ctx context.Context, req StartRequest) (string, error) {
	session, err := m.sessions.Create(req.ID)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrJobExists, req.ID)
	}

	name, client, opts, err := m.prepare(req)
	if err != nil {
		m.reject(session, req, name, err)
		return session.ID(), err
	}

	cfg := enrich.Config{
		Client:   m.metrics.Instrument(client, session.ID()),
		Resolver: m.resolver,
		Logger:   m.logger,
	}
	if m.timer != nil {
		cfg.Timer = m.timer
	}
	engine, err := enrich.New(cfg)
	if err != nil {
		m.sessions.Remove(session.ID())
		return "", err
	}

	// Jobs outlive the request that started them.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	j := &job{
		id:        session.ID(),
		provider:  name,
		items:     req.Items,
		opts:      opts,
		session:   session,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusQueued,
		createdAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()

	m.wg.Add(1)
	go m.run(runCtx, engine, j)

	m.logger.Info("job started", "id", j.id, "items", len(req.Items), "provider", name)
	return j.id, nil
}

// prepare checks items, options and provider. The provider name is returned
// even when the lookup fails.
func (m *Manager) prepare(req StartRequest) (string, providers.CompletionClient, enrich.Options, error) {
	name := req.Provider
	if name == "" {
		name = m.defaultProvider
	}
	if err := enrich.ValidateItems(req.Items); err != nil {
		return name, nil, enrich.Options{}, err
	}
	opts := mergeOptions(m.defaults, req.Options).WithDefaults()
	if err := opts.Validate(); err != nil {
		return name, nil, enrich.Options{}, err
	}
	client, err := m.providers.Get(name)
	if err != nil {
		return name, nil, enrich.Options{}, fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	return name, client, opts, nil
}

// reject records a job that failed validation as already failed.
func (m *Manager) reject(session *progress.Session, req StartRequest, provider string, cause error) {
	session.Fail(cause.Error())

	now := time.Now().UTC()
	done := make(chan struct{})
	close(done)
	j := &job{
		id:          session.ID(),
		provider:    provider,
		items:       req.Items,
		session:     session,
		cancel:      func() {},
		done:        done,
		status:      StatusFailed,
		err:         cause,
		createdAt:   now,
		completedAt: &now,
	}

	m.mu.Lock()
	m.jobs[j.id] = j
	m.mu.Unlock()
	m.logger.Warn("job rejected", "id", j.id, "error", cause)
}

func (m *Manager) run(ctx context.Context, engine *enrich.Engine, j *job) {
	defer m.wg.Done()
	defer close(j.done)
	defer j.cancel()

	now := time.Now().UTC()
	m.mu.Lock()
	j.status = StatusRunning
	j.startedAt = &now
	m.mu.Unlock()

	results, err := engine.Run(ctx, j.items, j.opts, j.session)

	end := time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	j.completedAt = &end
	j.results = results
	j.err = err
	switch {
	case err == nil:
		j.status = StatusCompleted
		m.logger.Info("job completed", "id", j.id, "results", len(results), "elapsed", end.Sub(now))
	case errors.Is(err, enrich.ErrStopped) || errors.Is(err, context.Canceled):
		j.status = StatusCancelled
		m.logger.Info("job cancelled", "id", j.id)
	default:
		j.status = StatusFailed
		m.logger.Warn("job failed", "id", j.id, "error", err)
	}
}

// Stop requests cancellation. The job finishes its current wave and then
// ends without results.
func (m *Manager) Stop(id string) error {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if !j.session.Stop() {
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}
	m.logger.Info("job stop requested", "id", id)
	return nil
}

// Get returns a job record. Jobs no longer in memory are looked up in the
// snapshot store when one is configured.
func (m *Manager) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	var rec *Record
	if ok {
		rec = m.recordLocked(j)
	}
	m.mu.RUnlock()
	if ok {
		return rec, nil
	}

	if m.store != nil {
		snap, err := m.store.Load(ctx, id)
		if err == nil {
			return recordFromSnapshot(snap), nil
		}
		if !errors.Is(err, progress.ErrSnapshotNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
}

// List returns all in-memory jobs, oldest first.
func (m *Manager) List() []*Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, m.recordLocked(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt.Equal(out[k].CreatedAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})
	return out
}

// Results returns the results of a completed job.
func (m *Manager) Results(id string) ([]types.Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	switch j.status {
	case StatusCompleted:
		return j.results, nil
	case StatusQueued, StatusRunning:
		return nil, fmt.Errorf("%w: %s is %s", ErrNotComplete, id, j.status)
	default:
		return nil, fmt.Errorf("%w: %s is %s", ErrNoResults, id, j.status)
	}
}

// Wait blocks until the job finishes or ctx is done.
func (m *Manager) Wait(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	j, ok := m.jobs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.recordLocked(j), nil
}

// Metrics returns the manager's completion metrics recorder.
func (m *Manager) Metrics() *metrics.Recorder {
	return m.metrics
}

// Counts returns the number of tracked and running jobs.
func (m *Manager) Counts() (total, running int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if !j.status.Terminal() {
			running++
		}
	}
	return len(m.jobs), running
}

// Sweep drops finished jobs that ended more than the TTL ago, along with
// their sessions. Running jobs are never dropped.
func (m *Manager) Sweep() []string {
	m.sessions.Sweep(m.ttl)
	cutoff := time.Now().UTC().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	var dropped []string
	for id, j := range m.jobs {
		if j.finished() && j.completedAt != nil && j.completedAt.Before(cutoff) {
			delete(m.jobs, id)
			m.sessions.Remove(id)
			m.metrics.Forget(id)
			dropped = append(dropped, id)
		}
	}
	sort.Strings(dropped)
	if len(dropped) > 0 {
		m.logger.Debug("swept expired jobs", "count", len(dropped), "ttl", m.ttl)
	}
	return dropped
}

// Run sweeps expired jobs periodically until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Shutdown stops every running job and waits for them to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.RLock()
	for _, j := range m.jobs {
		if !j.finished() {
			j.session.Stop()
			j.cancel()
		}
	}
	m.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) recordLocked(j *job) *Record {
	rec := &Record{
		ID:          j.id,
		Status:      j.status,
		Provider:    j.provider,
		Items:       len(j.items),
		CreatedAt:   j.createdAt,
		StartedAt:   j.startedAt,
		CompletedAt: j.completedAt,
		Progress:    j.session.Snapshot(),
	}
	if usage := m.metrics.Summary(metrics.Filter{JobID: j.id}); usage.Count > 0 {
		rec.Usage = usage
	}
	if j.err != nil {
		rec.Error = j.err.Error()
	}
	return rec
}

func recordFromSnapshot(snap progress.Snapshot) *Record {
	rec := &Record{
		ID:        snap.ID,
		CreatedAt: snap.CreatedAt,
		Progress:  snap,
	}
	switch snap.Phase {
	case progress.PhaseComplete:
		rec.Status = StatusCompleted
	case progress.PhaseError:
		rec.Status = StatusFailed
		if snap.Message == progress.StopMessage {
			rec.Status = StatusCancelled
		}
		rec.Error = snap.Message
	case progress.PhaseRunning:
		rec.Status = StatusRunning
	default:
		rec.Status = StatusQueued
	}
	return rec
}

// mergeOptions overlays the non-zero fields of o onto base.
func mergeOptions(base, o enrich.Options) enrich.Options {
	if o.BatchSize != 0 {
		base.BatchSize = o.BatchSize
	}
	if o.Concurrency != 0 {
		base.Concurrency = o.Concurrency
	}
	if o.MaxRetryAttempts != 0 {
		base.MaxRetryAttempts = o.MaxRetryAttempts
	}
	if o.RateLimitAttempts != 0 {
		base.RateLimitAttempts = o.RateLimitAttempts
	}
	if o.SingleItemAttempts != 0 {
		base.SingleItemAttempts = o.SingleItemAttempts
	}
	if o.BaseDelay != 0 {
		base.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay != 0 {
		base.MaxDelay = o.MaxDelay
	}
	if o.InterWavePace != 0 {
		base.InterWavePace = o.InterWavePace
	}
	if o.RequestTimeout != 0 {
		base.RequestTimeout = o.RequestTimeout
	}
	if o.TokenBudgetHint != 0 {
		base.TokenBudgetHint = o.TokenBudgetHint
	}
	if o.RequestsPerMinute != 0 {
		base.RequestsPerMinute = o.RequestsPerMinute
	}
	if o.Model != "" {
		base.Model = o.Model
	}
	if o.Temperature != 0 {
		base.Temperature = o.Temperature
	}
	if o.MaxTokens != 0 {
		base.MaxTokens = o.MaxTokens
	}
	if o.Structured {
		base.Structured = true
	}
	return base
}
