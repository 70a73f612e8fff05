package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/config"
	"github.com/jackzampolin/enrich/internal/home"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/prompts"
	enrichprompt "github.com/jackzampolin/enrich/internal/prompts/enrich"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/server/endpoints"
	"github.com/jackzampolin/enrich/internal/svcctx"
)

// Server is the main enrich HTTP server.
// It owns the job manager and the optional progress sinks, starting them
// on server start and draining them on shutdown.
type Server struct {
	httpServer *http.Server
	jobManager *jobs.Manager
	registry   *providers.Registry
	resolver   *prompts.Resolver
	configMgr  *config.Manager
	home       *home.Dir
	logger     *slog.Logger

	// progress sinks, set up in Start when configured
	natsConn   *nats.Conn
	redis      *redis.Client
	redisStore *progress.RedisStore
	stopLoops  context.CancelFunc
	storeDone  chan struct{}

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Home is the enrich home directory (optional)
	Home *home.Dir
	// Registry replaces the config-built provider registry (tests)
	Registry *providers.Registry
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = providers.NewRegistry()
		registry.SetLogger(cfg.Logger)

		// If config manager provided, set up providers and hot reload
		if cfg.ConfigManager != nil {
			registry.Reload(cfg.ConfigManager.Get().ToProviderRegistryConfig())

			cfg.ConfigManager.OnChange(func(c *config.Config) {
				registry.Reload(c.ToProviderRegistryConfig())
				cfg.Logger.Info("provider registry reloaded from config")
			})
		}
	}

	resolver := prompts.NewResolver(cfg.Logger)
	enrichprompt.RegisterPrompts(resolver)
	if dir := promptsDir(cfg); dir != "" {
		n, err := resolver.LoadOverrides(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to load prompt overrides: %w", err)
		}
		if n > 0 {
			cfg.Logger.Info("loaded prompt overrides", "dir", dir, "count", n)
		}
	}

	s := &Server{
		registry:  registry,
		resolver:  resolver,
		configMgr: cfg.ConfigManager,
		home:      cfg.Home,
		logger:    cfg.Logger,
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All() {
		s.endpointRegistry.Register(ep)
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// promptsDir is the configured override directory, else the home default.
func promptsDir(cfg Config) string {
	if cfg.ConfigManager != nil {
		if dir := cfg.ConfigManager.Get().PromptsDir; dir != "" {
			return dir
		}
	}
	if cfg.Home != nil {
		return cfg.Home.PromptsPath()
	}
	return ""
}

// Start starts the progress sinks, the job manager and the HTTP server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if err := s.initServices(ctx); err != nil {
		s.closeSinks()
		s.setNotRunning()
		return err
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// initServices connects the configured progress sinks and creates the job
// manager.
func (s *Server) initServices(ctx context.Context) error {
	cfg := config.DefaultConfig()
	if s.configMgr != nil {
		cfg = s.configMgr.Get()
	}

	var observers []progress.Observer
	if url := cfg.Progress.NATSURL; url != "" {
		nc, err := progress.ConnectNATS(progress.NATSConfig{URL: url, SubjectPrefix: cfg.Progress.SubjectPrefix, Logger: s.logger})
		if err != nil {
			return err
		}
		s.natsConn = nc
		observers = append(observers, progress.NewNATSPublisher(nc, cfg.Progress.SubjectPrefix, s.logger))
		s.logger.Info("publishing progress to NATS", "url", url, "prefix", cfg.Progress.SubjectPrefix)
	}
	if url := cfg.Progress.RedisURL; url != "" {
		rdb, err := progress.NewRedisClient(ctx, url)
		if err != nil {
			return err
		}
		s.redis = rdb
		s.redisStore = progress.NewRedisStore(rdb, progress.RedisConfig{
			KeyPrefix: cfg.Progress.RedisKeyPrefix,
			TTL:       cfg.Progress.SnapshotTTL(),
			Logger:    s.logger,
		})
		observers = append(observers, s.redisStore)
		s.logger.Info("storing progress snapshots in Redis", "prefix", cfg.Progress.RedisKeyPrefix)
	}

	sessions := progress.NewRegistry(progress.RegistryConfig{
		Observers:     observers,
		MaxLogEntries: cfg.Progress.MaxLogEntries,
		Logger:        s.logger,
	})
	jm, err := jobs.NewManager(jobs.ManagerConfig{
		Providers:       s.registry,
		DefaultProvider: cfg.Defaults.LLMProvider,
		Resolver:        s.resolver,
		Sessions:        sessions,
		Store:           s.redisStore,
		Defaults:        cfg.Enrich.Options(),
		TTL:             cfg.Progress.ResultTTL(),
		Logger:          s.logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create job manager: %w", err)
	}

	// Background loops stop when closeSinks cancels loopCtx.
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.stopLoops = cancel
	go jm.Run(loopCtx)
	if s.redisStore != nil {
		s.storeDone = make(chan struct{})
		go func() {
			defer close(s.storeDone)
			s.redisStore.Run(loopCtx)
		}()
	}

	s.mu.Lock()
	s.jobManager = jm
	s.services = &svcctx.Services{
		JobManager: jm,
		Registry:   s.registry,
		Resolver:   s.resolver,
		Config:     s.configMgr,
		Logger:     s.logger,
		Home:       s.home,
	}
	s.mu.Unlock()
	return nil
}

// shutdown stops the HTTP server, waits for running jobs, then drains and
// closes the progress sinks.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	if jm := s.JobManager(); jm != nil {
		if err := jm.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("job manager shutdown error", "error", err)
		}
	}

	s.closeSinks()
	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) closeSinks() {
	if s.stopLoops != nil {
		s.stopLoops()
	}
	if s.redisStore != nil {
		s.redisStore.Close()
		if s.storeDone != nil {
			<-s.storeDone
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.natsConn != nil {
		if err := s.natsConn.Drain(); err != nil {
			s.logger.Error("NATS drain error", "error", err)
		}
	}
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// JobManager returns the job manager.
// Returns nil if the server hasn't started yet.
func (s *Server) JobManager() *jobs.Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobManager
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Resolver returns the prompt resolver.
func (s *Server) Resolver() *prompts.Resolver {
	return s.resolver
}

// withServices wraps a handler to enrich the request context with services.
// Before Start completes only the registry, resolver and config are present.
func (s *Server) withServices(next http.Handler) http.Handler {
	partial := &svcctx.Services{
		Registry: s.registry,
		Resolver: s.resolver,
		Config:   s.configMgr,
		Logger:   s.logger,
		Home:     s.home,
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		services := s.services
		s.mu.RUnlock()
		if services == nil {
			services = partial
		}
		next.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the job manager isn't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.JobManager() == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
