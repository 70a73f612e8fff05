package providers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackzampolin/enrich/internal/types"
)

// CompletionClient sends one batch as a single completion request.
//
// Transient conditions (rate limits, transport faults, overloaded upstreams)
// are reported through Completion.Status so the caller can decide how to
// retry. A non-nil error means the request cannot succeed as sent
// (bad request, auth failure) or the context was cancelled.
type CompletionClient interface {
	// Send issues exactly one request. Implementations must not retry.
	Send(ctx context.Context, req *BatchRequest) (*Completion, error)

	// Name returns the client identifier (e.g., "openrouter").
	Name() string

	// RequestsPerMinute returns the client's request budget, 0 for unlimited.
	RequestsPerMinute() int
}

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ResponseFormat specifies structured output format.
type ResponseFormat struct {
	Type       string          `json:"type"` // "json_schema"
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

// BatchRequest is one chunk rendered as a completion request.
type BatchRequest struct {
	Messages []Message `json:"messages"`

	// Items are the chunk's items. Adapters never send them; they are carried
	// for logging and for the mock client.
	Items []types.Item `json:"-"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`

	RequestID string `json:"-"`
}

// StatusKind classifies the transport outcome of one request.
type StatusKind string

const (
	StatusOK             StatusKind = "ok"
	StatusRateLimited    StatusKind = "rate_limited"
	StatusTransportError StatusKind = "transport_error"
)

// Completion is the raw response of one request. It is consumed by the
// salvager and then discarded.
type Completion struct {
	RawText string     `json:"raw_text"`
	Status  StatusKind `json:"status"`

	// StatusCode is the upstream HTTP status, 0 if no response was received.
	StatusCode int `json:"status_code,omitempty"`

	// RetryAfter is the upstream wait hint, 0 if none was given.
	RetryAfter time.Duration `json:"retry_after,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`

	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used,omitempty"`
	RequestID string `json:"request_id"`

	PromptTokens     int           `json:"prompt_tokens"`
	CompletionTokens int           `json:"completion_tokens"`
	ExecutionTime    time.Duration `json:"execution_time"`
}

// OK reports whether the request produced text.
func (c *Completion) OK() bool {
	return c != nil && c.Status == StatusOK
}
