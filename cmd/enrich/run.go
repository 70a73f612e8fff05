package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/config"
	"github.com/jackzampolin/enrich/internal/enrich"
	"github.com/jackzampolin/enrich/internal/jobs"
	"github.com/jackzampolin/enrich/internal/metrics"
	"github.com/jackzampolin/enrich/internal/progress"
	"github.com/jackzampolin/enrich/internal/prompts"
	enrichprompt "github.com/jackzampolin/enrich/internal/prompts/enrich"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/server/endpoints"
	"github.com/jackzampolin/enrich/internal/types"
)

var (
	runFile     string
	runProvider string
	runSave     string
	runQuiet    bool

	// runFlags holds per-run option overrides; zero keeps the config value.
	runFlags config.EnrichCfg
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Enrich an items file locally without a server",
	Long: `Run one enrichment job in this process and print the results.

Providers, defaults and prompt overrides come from the config file. Press
Ctrl+C to stop after the current wave; no results are written then.

Examples:
  enrich run -f items.json
  enrich run -f items.yaml --provider mock -o table
  enrich run -f items.json --save results.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := loadRuntime()
		if err != nil {
			return err
		}
		defer env.Close()
		cfg := env.config.Get()

		items, err := jobs.ReadItemsFile(runFile)
		if err != nil {
			return err
		}

		name := runProvider
		if name == "" {
			name = cfg.Defaults.LLMProvider
		}
		registry := providers.NewRegistryFromConfig(cfg.ToProviderRegistryConfig())
		client, err := registry.Get(name)
		if err != nil {
			return fmt.Errorf("provider %q is not available (enabled with an API key?): %w", name, err)
		}

		resolver := prompts.NewResolver(env.logger)
		enrichprompt.RegisterPrompts(resolver)
		dir := cfg.PromptsDir
		if dir == "" {
			dir = env.home.PromptsPath()
		}
		if _, err := resolver.LoadOverrides(dir); err != nil {
			return err
		}

		opts := cfg.Enrich.Override(runFlags)

		var observers []progress.Observer
		if !runQuiet {
			observers = append(observers, &stderrProgress{})
		}
		session := progress.NewSession("", progress.WithObservers(observers...))

		usage := metrics.NewRecorder(0)
		engine, err := enrich.New(enrich.Config{
			Client:   usage.Instrument(client, session.ID()),
			Resolver: resolver,
			Logger:   env.logger,
		})
		if err != nil {
			return err
		}

		results, err := runUntilInterrupted(ctx, engine, items, opts.Options(), session)
		summary := usage.Summary(metrics.Filter{})
		env.logger.Info("completion usage",
			"calls", summary.Count,
			"errors", summary.ErrorCount,
			"tokens", summary.TotalTokens,
			"elapsed", summary.TotalTime())
		if errors.Is(err, enrich.ErrStopped) {
			return fmt.Errorf("stopped: no results written")
		}
		if err != nil {
			return err
		}

		resp := endpoints.ResultsResponse{ID: session.ID(), Results: results}
		if runSave != "" {
			if err := saveResults(runSave, resp); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Saved %d result(s) to %s\n", len(results), runSave)
			return nil
		}
		return api.Output(resp)
	},
}

// runUntilInterrupted runs the engine detached from ctx. Cancelling ctx stops
// the session instead, so requests already in flight finish and no further
// wave starts.
func runUntilInterrupted(ctx context.Context, engine *enrich.Engine, items []types.Item, opts enrich.Options, session *progress.Session) ([]types.Result, error) {
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			session.Stop()
		case <-finished:
		}
	}()
	return engine.Run(context.WithoutCancel(ctx), items, opts, session)
}

// stderrProgress prints a line whenever the progress message changes.
type stderrProgress struct {
	mu   sync.Mutex
	last string
}

func (p *stderrProgress) Observe(s progress.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg := strings.TrimSpace(s.Message)
	if msg == "" || msg == p.last {
		return
	}
	p.last = msg
	fmt.Fprintf(os.Stderr, "[%3d%%] %s\n", s.ProgressPercent, msg)
}

func saveResults(path string, resp endpoints.ResultsResponse) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func init() {
	runCmd.Flags().StringVarP(&runFile, "file", "f", "", "items file (JSON or YAML, - for stdin)")
	runCmd.Flags().StringVar(&runProvider, "provider", "", "provider name (default from config)")
	runCmd.Flags().StringVar(&runSave, "save", "", "write results JSON to this file instead of stdout")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not print progress")
	endpoints.BindOptionFlags(runCmd, &runFlags)
	runCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(runCmd)
}
