package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackzampolin/enrich/internal/types"
)

const MockClientName = "mock"

// RespondFunc scripts a mock response. The call number starts at 1.
type RespondFunc func(ctx context.Context, call int64, req *BatchRequest) (*Completion, error)

// MockClient is a CompletionClient for testing and offline runs.
// Without a Respond hook it answers every item of the request with a
// well-formed payload.
type MockClient struct {
	Latency    time.Duration
	ShouldFail bool
	FailAfter  int // Fail after N requests (0 = never)
	RPM        int

	// Respond overrides the default generator when set.
	Respond RespondFunc

	requestCount atomic.Int64

	mu       sync.Mutex
	requests []*BatchRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Latency: 10 * time.Millisecond,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// RequestsPerMinute returns the RPM limit for rate limiting.
func (c *MockClient) RequestsPerMinute() int {
	return c.RPM
}

// Send records the request and returns a scripted or generated completion.
func (c *MockClient) Send(ctx context.Context, req *BatchRequest) (*Completion, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	c.requests = append(c.requests, req)
	c.mu.Unlock()

	if c.ShouldFail {
		return nil, &StatusError{Provider: MockClientName, StatusCode: 400, Body: "mock client configured to fail"}
	}
	if c.FailAfter > 0 && int(count) > c.FailAfter {
		return nil, &StatusError{Provider: MockClientName, StatusCode: 400, Body: fmt.Sprintf("mock client failed after %d requests", c.FailAfter)}
	}

	if c.Latency > 0 {
		timer := time.NewTimer(c.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	var (
		comp *Completion
		err  error
	)
	if c.Respond != nil {
		comp, err = c.Respond(ctx, count, req)
	} else {
		comp = MockCompletion(GeneratePayloadJSON(req.Items))
	}
	if comp != nil {
		if comp.Provider == "" {
			comp.Provider = MockClientName
		}
		if comp.RequestID == "" {
			comp.RequestID = fmt.Sprintf("mock-%d", count)
		}
		comp.ExecutionTime = time.Since(start)
	}
	return comp, err
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Requests returns a copy of every request received, in arrival order.
func (c *MockClient) Requests() []*BatchRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*BatchRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Reset resets the request counter and history.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.requests = nil
	c.mu.Unlock()
}

// MockCompletion wraps raw text in a successful completion.
func MockCompletion(text string) *Completion {
	return &Completion{
		RawText:    text,
		Status:     StatusOK,
		StatusCode: 200,
		ModelUsed:  "mock-model",
	}
}

// MockRateLimited returns a 429 completion with the given wait hint.
func MockRateLimited(retryAfter time.Duration) *Completion {
	return &Completion{
		Status:       StatusRateLimited,
		StatusCode:   429,
		RetryAfter:   retryAfter,
		ErrorMessage: "mock rate limited",
	}
}

// MockTransportError returns a transient transport failure.
func MockTransportError(msg string) *Completion {
	return &Completion{
		Status:       StatusTransportError,
		ErrorMessage: msg,
	}
}

// GeneratePayloadJSON renders a valid results envelope for items.
func GeneratePayloadJSON(items []types.Item) string {
	payloads := make([]types.Payload, 0, len(items))
	for _, item := range items {
		payloads = append(payloads, GeneratePayload(item))
	}
	b, err := json.Marshal(struct {
		Results []types.Payload `json:"results"`
	}{Results: payloads})
	if err != nil {
		return `{"results":[]}`
	}
	return string(b)
}

var mockOpeners = []string{"Here", "Because", "Notably", "Clearly", "Similarly", "Finally", "Meanwhile", "Overall"}

// GeneratePayload builds a payload that passes the quality gate.
func GeneratePayload(item types.Item) types.Payload {
	topic := strings.TrimSpace(item.Content)
	if r := []rune(topic); len(r) > 60 {
		topic = string(r[:60])
	}

	p := types.Payload{
		ID: item.ID,
		Explanation: fmt.Sprintf("The question asks about %q. The key idea is identified first. "+
			"Each candidate is then checked against that idea. "+
			"Only the answer consistent with the underlying rule is kept.", topic),
	}

	if !item.IsMultipleChoice() {
		p.Answer = "A concise answer derived from the question content."
		if item.PriorAnswer != "" {
			p.Answer = item.PriorAnswer
		}
		return p
	}

	answer := item.PriorAnswer
	if answer == "" && len(item.Options) > 0 {
		answer = item.Options[0].Label
	}
	p.Answer = answer
	for i, opt := range item.Options {
		verdict := "is not supported by the question"
		if strings.Contains(strings.ToUpper(answer), strings.ToUpper(opt.Label)) {
			verdict = "matches the rule the question tests"
		}
		p.OptionExplanations = append(p.OptionExplanations, types.OptionExplanation{
			Label: opt.Label,
			Text:  fmt.Sprintf("%s, option %s %s.", mockOpeners[i%len(mockOpeners)], opt.Label, verdict),
		})
	}
	return p
}

// Verify interface
var _ CompletionClient = (*MockClient)(nil)
