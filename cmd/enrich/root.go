package main

import (
	"io"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/api"
	"github.com/jackzampolin/enrich/internal/config"
	"github.com/jackzampolin/enrich/internal/home"
	"github.com/jackzampolin/enrich/internal/logging"
	"github.com/jackzampolin/enrich/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Batch AI enrichment of question items",
	Long: `Enrich sends batches of question items to a completion service and
returns one validated result per item.

The engine includes:
  - Chunked, wave-scheduled requests with rate-limit aware retries
  - Salvage of malformed or truncated JSON responses
  - Quality gating with single-item resubmission
  - Deterministic fallback content when a provider gives nothing usable`,
	Version:       version.GitRelease,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.enrich/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "enrich home directory (default: ~/.enrich)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or table",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "log level override: debug, info, warn, error",
	)

	// Load .env files and set output format before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		loadDotEnv()
		api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// loadDotEnv loads ./.env then ~/.enrich/.env. Existing variables win.
func loadDotEnv() {
	_ = godotenv.Load()
	if h, err := home.New(homeDir); err == nil {
		_ = godotenv.Load(h.EnvPath())
	}
}

// runtimeEnv is what local commands need: home dir, config and logger.
type runtimeEnv struct {
	home   *home.Dir
	config *config.Manager
	logger *slog.Logger
	closer io.Closer
}

// loadRuntime resolves the home directory, loads config and builds the
// logger. Callers must Close the returned env.
func loadRuntime() (*runtimeEnv, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, err
	}
	if err := h.EnsureExists(); err != nil {
		return nil, err
	}

	path := cfgFile
	if path == "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	cm, err := config.NewManager(path)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cm.Get().Logging, logging.Options{Level: logLevel})
	if err != nil {
		return nil, err
	}
	cm.SetLogger(logger)
	slog.SetDefault(logger)

	return &runtimeEnv{home: h, config: cm, logger: logger, closer: closer}, nil
}

func (e *runtimeEnv) Close() error {
	return e.closer.Close()
}
