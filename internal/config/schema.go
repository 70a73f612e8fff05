package config

import (
	"time"

	"github.com/jackzampolin/enrich/internal/enrich"
)

// Config holds enrich configuration.
// Stored at: ~/.enrich/config.yaml
type Config struct {
	LLMProviders map[string]LLMProviderCfg `mapstructure:"llm_providers" yaml:"llm_providers" validate:"dive"`
	Defaults     DefaultsCfg               `mapstructure:"defaults" yaml:"defaults"`
	Enrich       EnrichCfg                 `mapstructure:"enrich" yaml:"enrich"`
	Progress     ProgressCfg               `mapstructure:"progress" yaml:"progress"`
	Logging      LoggingCfg                `mapstructure:"logging" yaml:"logging"`
	Server       ServerCfg                 `mapstructure:"server" yaml:"server"`
	PromptsDir   string                    `mapstructure:"prompts_dir" yaml:"prompts_dir"`
}

// LLMProviderCfg configures a completion provider.
type LLMProviderCfg struct {
	Type      string `mapstructure:"type" yaml:"type" validate:"required,oneof=openrouter openai mock"`
	Model     string `mapstructure:"model" yaml:"model"`
	APIKey    string `mapstructure:"api_key" yaml:"api_key"` // API key (supports ${ENV_VAR} syntax)
	BaseURL   string `mapstructure:"base_url" yaml:"base_url,omitempty" validate:"omitempty,url"`
	RateLimit int    `mapstructure:"rate_limit" yaml:"rate_limit" validate:"min=0"` // Requests per minute
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
}

// DefaultsCfg specifies default provider selections.
type DefaultsCfg struct {
	LLMProvider string `mapstructure:"llm_provider" yaml:"llm_provider"`
}

// EnrichCfg holds engine settings. Durations are in seconds. The same
// shape is accepted as per-job overrides by the jobs API.
type EnrichCfg struct {
	BatchSize             int     `mapstructure:"batch_size" yaml:"batch_size" json:"batch_size,omitempty" validate:"min=0,max=100"`
	Concurrency           int     `mapstructure:"concurrency" yaml:"concurrency" json:"concurrency,omitempty" validate:"min=0,max=64"`
	MaxRetryAttempts      int     `mapstructure:"max_retry_attempts" yaml:"max_retry_attempts" json:"max_retry_attempts,omitempty" validate:"min=0,max=20"`
	RateLimitAttempts     int     `mapstructure:"rate_limit_attempts" yaml:"rate_limit_attempts" json:"rate_limit_attempts,omitempty" validate:"min=0,max=50"`
	SingleItemAttempts    int     `mapstructure:"single_item_attempts" yaml:"single_item_attempts" json:"single_item_attempts,omitempty" validate:"min=0,max=10"`
	BaseDelaySeconds      float64 `mapstructure:"base_delay_seconds" yaml:"base_delay_seconds" json:"base_delay_seconds,omitempty" validate:"min=0"`
	MaxDelaySeconds       float64 `mapstructure:"max_delay_seconds" yaml:"max_delay_seconds" json:"max_delay_seconds,omitempty" validate:"min=0"`
	InterWavePaceSeconds  float64 `mapstructure:"inter_wave_pace_seconds" yaml:"inter_wave_pace_seconds" json:"inter_wave_pace_seconds,omitempty" validate:"min=0,max=5"`
	RequestTimeoutSeconds float64 `mapstructure:"request_timeout_seconds" yaml:"request_timeout_seconds" json:"request_timeout_seconds,omitempty" validate:"min=0"`
	TokenBudgetHint       int     `mapstructure:"token_budget_hint" yaml:"token_budget_hint" json:"token_budget_hint,omitempty" validate:"min=0"`
	RequestsPerMinute     int     `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute,omitempty" validate:"min=0"`
	Model                 string  `mapstructure:"model" yaml:"model" json:"model,omitempty"`
	Temperature           float64 `mapstructure:"temperature" yaml:"temperature" json:"temperature,omitempty" validate:"min=0,max=2"`
	MaxTokens             int     `mapstructure:"max_tokens" yaml:"max_tokens" json:"max_tokens,omitempty" validate:"min=0"`
	Structured            bool    `mapstructure:"structured" yaml:"structured" json:"structured,omitempty"`
}

// ProgressCfg configures optional progress sinks and retention.
type ProgressCfg struct {
	NATSURL          string `mapstructure:"nats_url" yaml:"nats_url"`
	SubjectPrefix    string `mapstructure:"subject_prefix" yaml:"subject_prefix"`
	RedisURL         string `mapstructure:"redis_url" yaml:"redis_url"`
	RedisKeyPrefix   string `mapstructure:"redis_key_prefix" yaml:"redis_key_prefix"`
	SnapshotTTLHours int    `mapstructure:"snapshot_ttl_hours" yaml:"snapshot_ttl_hours" validate:"min=0"`
	ResultTTLMinutes int    `mapstructure:"result_ttl_minutes" yaml:"result_ttl_minutes" validate:"min=0"`
	MaxLogEntries    int    `mapstructure:"max_log_entries" yaml:"max_log_entries" validate:"min=0"`
}

// LoggingCfg configures the process logger.
type LoggingCfg struct {
	Level      string `mapstructure:"level" yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format     string `mapstructure:"format" yaml:"format" validate:"omitempty,oneof=text json"`
	File       string `mapstructure:"file" yaml:"file"` // Rotated log file, empty for stderr only
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb" validate:"min=0"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups" validate:"min=0"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days" validate:"min=0"`
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port string `mapstructure:"port" yaml:"port"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		LLMProviders: map[string]LLMProviderCfg{
			"openrouter": {
				Type:      "openrouter",
				Model:     "anthropic/claude-sonnet-4",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 120,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o-mini",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 300,
				Enabled:   true,
			},
			"mock": {
				Type:    "mock",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			LLMProvider: "openrouter",
		},
		Enrich: EnrichCfg{
			BatchSize:             enrich.DefaultBatchSize,
			Concurrency:           enrich.DefaultConcurrency,
			MaxRetryAttempts:      enrich.DefaultMaxRetryAttempts,
			RateLimitAttempts:     enrich.DefaultRateLimitAttempts,
			SingleItemAttempts:    enrich.DefaultSingleItemAttempts,
			BaseDelaySeconds:      enrich.DefaultBaseDelay.Seconds(),
			MaxDelaySeconds:       enrich.DefaultMaxDelay.Seconds(),
			InterWavePaceSeconds:  enrich.DefaultInterWavePace.Seconds(),
			RequestTimeoutSeconds: enrich.DefaultRequestTimeout.Seconds(),
			Temperature:           0.2,
		},
		Progress: ProgressCfg{
			SubjectPrefix:    "enrich.progress",
			RedisKeyPrefix:   "enrich:session:",
			SnapshotTTLHours: 24,
			ResultTTLMinutes: 60,
			MaxLogEntries:    1000,
		},
		Logging: LoggingCfg{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerCfg{
			Host: "127.0.0.1",
			Port: "8080",
		},
	}
}

// Options converts the engine section to enrich.Options.
func (c EnrichCfg) Options() enrich.Options {
	return enrich.Options{
		BatchSize:          c.BatchSize,
		Concurrency:        c.Concurrency,
		MaxRetryAttempts:   c.MaxRetryAttempts,
		RateLimitAttempts:  c.RateLimitAttempts,
		SingleItemAttempts: c.SingleItemAttempts,
		BaseDelay:          seconds(c.BaseDelaySeconds),
		MaxDelay:           seconds(c.MaxDelaySeconds),
		InterWavePace:      seconds(c.InterWavePaceSeconds),
		RequestTimeout:     seconds(c.RequestTimeoutSeconds),
		TokenBudgetHint:    c.TokenBudgetHint,
		RequestsPerMinute:  c.RequestsPerMinute,
		Model:              c.Model,
		Temperature:        c.Temperature,
		MaxTokens:          c.MaxTokens,
		Structured:         c.Structured,
	}
}

// Override returns c with every non-zero field of o applied.
func (c EnrichCfg) Override(o EnrichCfg) EnrichCfg {
	if o.BatchSize != 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Concurrency != 0 {
		c.Concurrency = o.Concurrency
	}
	if o.MaxRetryAttempts != 0 {
		c.MaxRetryAttempts = o.MaxRetryAttempts
	}
	if o.RateLimitAttempts != 0 {
		c.RateLimitAttempts = o.RateLimitAttempts
	}
	if o.SingleItemAttempts != 0 {
		c.SingleItemAttempts = o.SingleItemAttempts
	}
	if o.BaseDelaySeconds != 0 {
		c.BaseDelaySeconds = o.BaseDelaySeconds
	}
	if o.MaxDelaySeconds != 0 {
		c.MaxDelaySeconds = o.MaxDelaySeconds
	}
	if o.InterWavePaceSeconds != 0 {
		c.InterWavePaceSeconds = o.InterWavePaceSeconds
	}
	if o.RequestTimeoutSeconds != 0 {
		c.RequestTimeoutSeconds = o.RequestTimeoutSeconds
	}
	if o.TokenBudgetHint != 0 {
		c.TokenBudgetHint = o.TokenBudgetHint
	}
	if o.RequestsPerMinute != 0 {
		c.RequestsPerMinute = o.RequestsPerMinute
	}
	if o.Model != "" {
		c.Model = o.Model
	}
	if o.Temperature != 0 {
		c.Temperature = o.Temperature
	}
	if o.MaxTokens != 0 {
		c.MaxTokens = o.MaxTokens
	}
	if o.Structured {
		c.Structured = true
	}
	return c
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// ResultTTL returns how long finished jobs are kept in memory.
func (c ProgressCfg) ResultTTL() time.Duration {
	return time.Duration(c.ResultTTLMinutes) * time.Minute
}

// SnapshotTTL returns how long stored snapshots live in Redis.
func (c ProgressCfg) SnapshotTTL() time.Duration {
	return time.Duration(c.SnapshotTTLHours) * time.Hour
}

// GetLLMProvider returns a provider config by name.
func (c *Config) GetLLMProvider(name string) (LLMProviderCfg, bool) {
	cfg, ok := c.LLMProviders[name]
	return cfg, ok
}

// EnabledLLMProviders returns all enabled providers.
func (c *Config) EnabledLLMProviders() map[string]LLMProviderCfg {
	result := make(map[string]LLMProviderCfg)
	for name, cfg := range c.LLMProviders {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
