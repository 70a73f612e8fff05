package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	OpenRouterName    = "openrouter"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPM          int // Requests per minute (0 = unlimited)
	HTTPClient   *http.Client
}

// OpenRouterClient implements CompletionClient using the OpenRouter API.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rpm          int
	client       *http.Client
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic/claude-sonnet-4"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rpm:          cfg.RPM,
		client:       httpClient,
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// RequestsPerMinute returns the RPM limit for rate limiting.
func (c *OpenRouterClient) RequestsPerMinute() int {
	return c.rpm
}

// Send issues one chat completion request.
func (c *OpenRouterClient) Send(ctx context.Context, req *BatchRequest) (*Completion, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	orReq := openRouterRequest{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	comp := &Completion{
		Provider:  OpenRouterName,
		RequestID: requestID,
	}
	defer func() { comp.ExecutionTime = time.Since(start) }()

	rf, err := adaptedResponseFormat(model, req.ResponseFormat)
	if err != nil {
		return comp, err
	}
	orReq.ResponseFormat = rf

	bodyBytes, err := json.Marshal(orReq)
	if err != nil {
		return comp, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return comp, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/enrich")
	httpReq.Header.Set("X-Title", "Enrich")
	httpReq.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return comp, ctxErr
		}
		comp.Status = StatusTransportError
		comp.ErrorMessage = fmt.Sprintf("request failed: %v", err)
		return comp, nil
	}
	defer resp.Body.Close()

	comp.StatusCode = resp.StatusCode
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		comp.Status = StatusTransportError
		comp.ErrorMessage = fmt.Sprintf("failed to read response: %v", err)
		return comp, nil
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		comp.Status = StatusRateLimited
		comp.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		comp.ErrorMessage = fmt.Sprintf("OpenRouter rate limited: %s", truncate(string(respBody), 200))
		return comp, nil
	case retryableStatus(resp.StatusCode):
		comp.Status = StatusTransportError
		comp.ErrorMessage = fmt.Sprintf("OpenRouter error (status %d): %s", resp.StatusCode, truncate(string(respBody), 200))
		return comp, nil
	case resp.StatusCode != http.StatusOK:
		return comp, &StatusError{Provider: OpenRouterName, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		// A 200 with a garbled envelope is usually a proxy hiccup.
		comp.Status = StatusTransportError
		comp.ErrorMessage = fmt.Sprintf("failed to unmarshal response: %v", err)
		return comp, nil
	}

	if orResp.Error != nil {
		code := fmt.Sprintf("%v", orResp.Error.Code)
		switch code {
		case "429", "rate_limit_exceeded":
			comp.Status = StatusRateLimited
		case "overloaded", "500", "502", "503":
			comp.Status = StatusTransportError
		default:
			return comp, &StatusError{Provider: OpenRouterName, StatusCode: resp.StatusCode, Body: orResp.Error.Message}
		}
		comp.ErrorMessage = fmt.Sprintf("OpenRouter API error: %s", orResp.Error.Message)
		return comp, nil
	}

	if len(orResp.Choices) == 0 {
		comp.Status = StatusTransportError
		comp.ErrorMessage = fmt.Sprintf("empty choices in response (model=%s, id=%s)", orResp.Model, orResp.ID)
		return comp, nil
	}

	comp.Status = StatusOK
	comp.RawText = contentString(orResp.Choices[0].Message.Content)
	comp.ModelUsed = orResp.Model
	comp.PromptTokens = orResp.Usage.PromptTokens
	comp.CompletionTokens = orResp.Usage.CompletionTokens
	return comp, nil
}

// contentString flattens a message content that may be a string or an
// array of typed parts.
func contentString(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var buf bytes.Buffer
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					buf.WriteString(text)
				}
			}
		}
		return buf.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// OpenRouter API types

type openRouterRequest struct {
	Model          string                    `json:"model"`
	Messages       []Message                 `json:"messages"`
	Temperature    float64                   `json:"temperature,omitempty"`
	MaxTokens      int                       `json:"max_tokens,omitempty"`
	ResponseFormat *openRouterResponseFormat `json:"response_format,omitempty"`
}

type openRouterResponseFormat struct {
	Type       string          `json:"type"`
	JSONSchema json.RawMessage `json:"json_schema,omitempty"`
}

type openRouterResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content any    `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    any    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Verify interface
var _ CompletionClient = (*OpenRouterClient)(nil)
