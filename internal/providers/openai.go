package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIName         = "openai"
	OpenAIDefaultModel = "gpt-4o-mini"
)

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPM          int
	HTTPClient   *http.Client
}

// OpenAIClient implements CompletionClient on the official OpenAI SDK.
type OpenAIClient struct {
	client       openai.Client
	apiKey       string
	defaultModel string
	rpm          int
}

// NewOpenAIClient creates a new OpenAI chat client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = OpenAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		// Retries belong to the scheduler.
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		client:       openai.NewClient(opts...),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		rpm:          cfg.RPM,
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIName
}

// RequestsPerMinute returns the RPM limit for rate limiting.
func (c *OpenAIClient) RequestsPerMinute() int {
	return c.rpm
}

// Send issues one chat completion request.
func (c *OpenAIClient) Send(ctx context.Context, req *BatchRequest) (*Completion, error) {
	start := time.Now()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.New().String()
	}
	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	comp := &Completion{
		Provider:  OpenAIName,
		RequestID: requestID,
	}
	defer func() { comp.ExecutionTime = time.Since(start) }()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithHeader("X-Request-ID", requestID))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return comp, ctxErr
		}

		var apiErr *openai.Error
		if !errors.As(err, &apiErr) {
			comp.Status = StatusTransportError
			comp.ErrorMessage = fmt.Sprintf("request failed: %v", err)
			return comp, nil
		}

		comp.StatusCode = apiErr.StatusCode
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			comp.Status = StatusRateLimited
			if apiErr.Response != nil {
				comp.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
			}
			comp.ErrorMessage = fmt.Sprintf("OpenAI rate limited: %s", apiErr.Message)
			return comp, nil
		case retryableStatus(apiErr.StatusCode):
			comp.Status = StatusTransportError
			comp.ErrorMessage = fmt.Sprintf("OpenAI error (status %d): %s", apiErr.StatusCode, apiErr.Message)
			return comp, nil
		default:
			return comp, &StatusError{Provider: OpenAIName, StatusCode: apiErr.StatusCode, Body: apiErr.Message}
		}
	}

	comp.StatusCode = http.StatusOK
	if len(resp.Choices) == 0 {
		comp.Status = StatusTransportError
		comp.ErrorMessage = fmt.Sprintf("empty choices in response (model=%s, id=%s)", resp.Model, resp.ID)
		return comp, nil
	}

	comp.Status = StatusOK
	comp.RawText = resp.Choices[0].Message.Content
	comp.ModelUsed = resp.Model
	comp.PromptTokens = int(resp.Usage.PromptTokens)
	comp.CompletionTokens = int(resp.Usage.CompletionTokens)
	return comp, nil
}

// Verify interface
var _ CompletionClient = (*OpenAIClient)(nil)
