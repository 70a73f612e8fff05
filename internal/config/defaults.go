package config

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// Entry is one documented configuration key.
type Entry struct {
	Key         string `json:"key" yaml:"key"`
	Value       any    `json:"value" yaml:"value"`
	Description string `json:"description" yaml:"description"`
}

// DefaultEntries returns the documented configuration keys with their
// default values. The env override for a key is ENRICH_ plus the key
// upper-cased with dots replaced by underscores.
func DefaultEntries() []Entry {
	d := DefaultConfig()
	return []Entry{
		// ===================
		// Providers
		// ===================
		{
			Key:         "defaults.llm_provider",
			Value:       d.Defaults.LLMProvider,
			Description: "Provider used when a job does not name one",
		},
		{
			Key:         "llm_providers.openrouter.model",
			Value:       d.LLMProviders["openrouter"].Model,
			Description: "Default model for OpenRouter",
		},
		{
			Key:         "llm_providers.openrouter.api_key",
			Value:       d.LLMProviders["openrouter"].APIKey,
			Description: "OpenRouter API key (uses environment variable)",
		},
		{
			Key:         "llm_providers.openrouter.rate_limit",
			Value:       d.LLMProviders["openrouter"].RateLimit,
			Description: "Requests per minute for OpenRouter",
		},
		{
			Key:         "llm_providers.openai.model",
			Value:       d.LLMProviders["openai"].Model,
			Description: "Default model for OpenAI",
		},
		{
			Key:         "llm_providers.openai.api_key",
			Value:       d.LLMProviders["openai"].APIKey,
			Description: "OpenAI API key (uses environment variable)",
		},
		{
			Key:         "llm_providers.openai.rate_limit",
			Value:       d.LLMProviders["openai"].RateLimit,
			Description: "Requests per minute for OpenAI",
		},

		// ===================
		// Engine
		// ===================
		{
			Key:         "enrich.batch_size",
			Value:       d.Enrich.BatchSize,
			Description: "Items per completion request",
		},
		{
			Key:         "enrich.concurrency",
			Value:       d.Enrich.Concurrency,
			Description: "Chunks in flight per wave",
		},
		{
			Key:         "enrich.max_retry_attempts",
			Value:       d.Enrich.MaxRetryAttempts,
			Description: "Attempts per chunk for transient failures",
		},
		{
			Key:         "enrich.rate_limit_attempts",
			Value:       d.Enrich.RateLimitAttempts,
			Description: "Extra attempts per chunk reserved for rate-limit responses",
		},
		{
			Key:         "enrich.single_item_attempts",
			Value:       d.Enrich.SingleItemAttempts,
			Description: "Attempts when an item is resubmitted on its own",
		},
		{
			Key:         "enrich.base_delay_seconds",
			Value:       d.Enrich.BaseDelaySeconds,
			Description: "First backoff delay, doubled on each retry",
		},
		{
			Key:         "enrich.max_delay_seconds",
			Value:       d.Enrich.MaxDelaySeconds,
			Description: "Backoff ceiling",
		},
		{
			Key:         "enrich.inter_wave_pace_seconds",
			Value:       d.Enrich.InterWavePaceSeconds,
			Description: "Pause between waves (0 to 5)",
		},
		{
			Key:         "enrich.request_timeout_seconds",
			Value:       d.Enrich.RequestTimeoutSeconds,
			Description: "Timeout for one completion call",
		},
		{
			Key:         "enrich.temperature",
			Value:       d.Enrich.Temperature,
			Description: "Sampling temperature",
		},
		{
			Key:         "enrich.structured",
			Value:       d.Enrich.Structured,
			Description: "Request schema-constrained output where the provider supports it",
		},

		// ===================
		// Progress
		// ===================
		{
			Key:         "progress.nats_url",
			Value:       d.Progress.NATSURL,
			Description: "Publish progress snapshots to NATS when set",
		},
		{
			Key:         "progress.subject_prefix",
			Value:       d.Progress.SubjectPrefix,
			Description: "NATS subject prefix, snapshots go to <prefix>.<job id>",
		},
		{
			Key:         "progress.redis_url",
			Value:       d.Progress.RedisURL,
			Description: "Store latest snapshots in Redis when set",
		},
		{
			Key:         "progress.redis_key_prefix",
			Value:       d.Progress.RedisKeyPrefix,
			Description: "Redis key prefix for stored snapshots",
		},
		{
			Key:         "progress.snapshot_ttl_hours",
			Value:       d.Progress.SnapshotTTLHours,
			Description: "Lifetime of stored snapshots",
		},
		{
			Key:         "progress.result_ttl_minutes",
			Value:       d.Progress.ResultTTLMinutes,
			Description: "How long finished jobs and results stay in memory",
		},
		{
			Key:         "progress.max_log_entries",
			Value:       d.Progress.MaxLogEntries,
			Description: "Log lines kept per job",
		},

		// ===================
		// Logging / Server
		// ===================
		{
			Key:         "logging.level",
			Value:       d.Logging.Level,
			Description: "debug, info, warn or error",
		},
		{
			Key:         "logging.format",
			Value:       d.Logging.Format,
			Description: "text or json",
		},
		{
			Key:         "logging.file",
			Value:       d.Logging.File,
			Description: "Also write logs to this rotated file",
		},
		{
			Key:         "server.host",
			Value:       d.Server.Host,
			Description: "HTTP listen host",
		},
		{
			Key:         "server.port",
			Value:       d.Server.Port,
			Description: "HTTP listen port",
		},
		{
			Key:         "prompts_dir",
			Value:       d.PromptsDir,
			Description: "Directory of prompt overrides (<key>.tmpl), defaults to ~/.enrich/prompts",
		},
	}
}

// DefaultValue returns the default for a documented key.
func DefaultValue(key string) (any, error) {
	for _, e := range DefaultEntries() {
		if e.Key == key {
			return e.Value, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrNoDefault, key)
}

// Entries returns the documented keys with values from the manager's
// current view, sorted by key.
func (cm *Manager) Entries() []Entry {
	entries := DefaultEntries()
	for i := range entries {
		if cm.v.IsSet(entries[i].Key) {
			entries[i].Value = cm.v.Get(entries[i].Key)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return entries
}
