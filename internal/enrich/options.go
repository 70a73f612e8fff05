package enrich

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default option values.
const (
	DefaultBatchSize          = 5
	DefaultConcurrency        = 3
	DefaultMaxRetryAttempts   = 3
	DefaultRateLimitAttempts  = 8
	DefaultSingleItemAttempts = 2
	DefaultBaseDelay          = 2 * time.Second
	DefaultMaxDelay           = 60 * time.Second
	DefaultInterWavePace      = 500 * time.Millisecond
	DefaultRequestTimeout     = 120 * time.Second
)

// Options tune one enrichment run.
type Options struct {
	// BatchSize is the number of items per request.
	BatchSize int `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size" validate:"min=1,max=100"`

	// Concurrency is the number of chunks in flight per wave.
	Concurrency int `json:"concurrency" yaml:"concurrency" mapstructure:"concurrency" validate:"min=1,max=64"`

	// MaxRetryAttempts bounds transient failures per chunk.
	MaxRetryAttempts int `json:"max_retry_attempts" yaml:"max_retry_attempts" mapstructure:"max_retry_attempts" validate:"min=1,max=20"`

	// RateLimitAttempts bounds rate-limited responses per chunk, separately
	// from MaxRetryAttempts.
	RateLimitAttempts int `json:"rate_limit_attempts" yaml:"rate_limit_attempts" mapstructure:"rate_limit_attempts" validate:"min=1,max=50"`

	// SingleItemAttempts bounds transient failures when an item is
	// resubmitted on its own.
	SingleItemAttempts int `json:"single_item_attempts" yaml:"single_item_attempts" mapstructure:"single_item_attempts" validate:"min=1,max=10"`

	BaseDelay time.Duration `json:"base_delay" yaml:"base_delay" mapstructure:"base_delay" validate:"min=0"`
	MaxDelay  time.Duration `json:"max_delay" yaml:"max_delay" mapstructure:"max_delay" validate:"gtefield=BaseDelay"`

	// InterWavePace is slept between waves, never before the first.
	InterWavePace time.Duration `json:"inter_wave_pace" yaml:"inter_wave_pace" mapstructure:"inter_wave_pace" validate:"min=0,max=5s"`

	// RequestTimeout bounds a single completion call.
	RequestTimeout time.Duration `json:"request_timeout" yaml:"request_timeout" mapstructure:"request_timeout" validate:"min=0"`

	// TokenBudgetHint is the completion-token allowance per item. When set,
	// a request's max tokens is the hint times the chunk size.
	TokenBudgetHint int `json:"token_budget_hint" yaml:"token_budget_hint" mapstructure:"token_budget_hint" validate:"min=0"`

	// RequestsPerMinute caps the request rate. 0 uses the client's own limit.
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute" mapstructure:"requests_per_minute" validate:"min=0"`

	Model       string  `json:"model,omitempty" yaml:"model,omitempty" mapstructure:"model"`
	Temperature float64 `json:"temperature" yaml:"temperature" mapstructure:"temperature" validate:"min=0,max=2"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" mapstructure:"max_tokens" validate:"min=0"`

	// Structured asks the provider to enforce the response schema.
	Structured bool `json:"structured" yaml:"structured" mapstructure:"structured"`
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		BatchSize:          DefaultBatchSize,
		Concurrency:        DefaultConcurrency,
		MaxRetryAttempts:   DefaultMaxRetryAttempts,
		RateLimitAttempts:  DefaultRateLimitAttempts,
		SingleItemAttempts: DefaultSingleItemAttempts,
		BaseDelay:          DefaultBaseDelay,
		MaxDelay:           DefaultMaxDelay,
		InterWavePace:      DefaultInterWavePace,
		RequestTimeout:     DefaultRequestTimeout,
	}
}

// WithDefaults fills zero-valued required fields. InterWavePace,
// TokenBudgetHint and the request fields keep their zero values.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize == 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Concurrency == 0 {
		o.Concurrency = d.Concurrency
	}
	if o.MaxRetryAttempts == 0 {
		o.MaxRetryAttempts = d.MaxRetryAttempts
	}
	if o.RateLimitAttempts == 0 {
		o.RateLimitAttempts = d.RateLimitAttempts
	}
	if o.SingleItemAttempts == 0 {
		o.SingleItemAttempts = d.SingleItemAttempts
	}
	if o.BaseDelay == 0 {
		o.BaseDelay = d.BaseDelay
	}
	if o.MaxDelay == 0 {
		o.MaxDelay = max(d.MaxDelay, o.BaseDelay)
	}
	if o.RequestTimeout == 0 {
		o.RequestTimeout = d.RequestTimeout
	}
	return o
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks option ranges.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}
