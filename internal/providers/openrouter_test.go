package providers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestOpenRouterClient_Send(t *testing.T) {
	t.Run("successful completion", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/chat/completions" {
				t.Errorf("unexpected path: %s", r.URL.Path)
			}
			if r.Method != "POST" {
				t.Errorf("unexpected method: %s", r.Method)
			}
			if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
				t.Errorf("unexpected authorization: %s", auth)
			}
			if r.Header.Get("X-Request-ID") != "req-1" {
				t.Errorf("X-Request-ID = %q, want req-1", r.Header.Get("X-Request-ID"))
			}

			resp := map[string]any{
				"id":    "test-id",
				"model": "anthropic/claude-sonnet-4",
				"choices": []map[string]any{
					{
						"message": map[string]any{
							"role":    "assistant",
							"content": `{"results":[]}`,
						},
						"finish_reason": "stop",
					},
				},
				"usage": map[string]int{
					"prompt_tokens":     10,
					"completion_tokens": 8,
					"total_tokens":      18,
				},
			}

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{
			APIKey:  "test-key",
			BaseURL: server.URL,
		})

		comp, err := client.Send(context.Background(), &BatchRequest{
			Messages:  []Message{{Role: "user", Content: "Hello"}},
			RequestID: "req-1",
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if !comp.OK() {
			t.Fatalf("Status = %s, want ok", comp.Status)
		}
		if comp.RawText != `{"results":[]}` {
			t.Errorf("RawText = %q", comp.RawText)
		}
		if comp.PromptTokens != 10 || comp.CompletionTokens != 8 {
			t.Errorf("tokens = %d/%d, want 10/8", comp.PromptTokens, comp.CompletionTokens)
		}
		if comp.ModelUsed != "anthropic/claude-sonnet-4" {
			t.Errorf("ModelUsed = %q", comp.ModelUsed)
		}
	})

	t.Run("content parts are flattened", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"x","model":"m","choices":[{"message":{"role":"assistant","content":[{"type":"text","text":"{\"results\""},{"type":"text","text":":[]}"}]}}]}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		comp, err := client.Send(context.Background(), &BatchRequest{})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if comp.RawText != `{"results":[]}` {
			t.Errorf("RawText = %q", comp.RawText)
		}
	})

	t.Run("429 reports rate limit with hint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"message":"slow down"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		comp, err := client.Send(context.Background(), &BatchRequest{})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if comp.Status != StatusRateLimited {
			t.Errorf("Status = %s, want rate_limited", comp.Status)
		}
		if comp.RetryAfter != 7*time.Second {
			t.Errorf("RetryAfter = %v, want 7s", comp.RetryAfter)
		}
	})

	t.Run("5xx is a transport error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		comp, err := client.Send(context.Background(), &BatchRequest{})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if comp.Status != StatusTransportError {
			t.Errorf("Status = %s, want transport_error", comp.Status)
		}
		if comp.StatusCode != http.StatusBadGateway {
			t.Errorf("StatusCode = %d", comp.StatusCode)
		}
	})

	t.Run("4xx is fatal", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Send(context.Background(), &BatchRequest{})
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("expected *StatusError, got %v", err)
		}
		if statusErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d, want 401", statusErr.StatusCode)
		}
	})

	t.Run("empty choices is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"id":"x","model":"m","choices":[]}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		comp, err := client.Send(context.Background(), &BatchRequest{})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if comp.Status != StatusTransportError {
			t.Errorf("Status = %s, want transport_error", comp.Status)
		}
	})

	t.Run("in-body overloaded error is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"error":{"code":503,"message":"overloaded"}}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		comp, err := client.Send(context.Background(), &BatchRequest{})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if comp.Status != StatusTransportError {
			t.Errorf("Status = %s, want transport_error", comp.Status)
		}
	})

	t.Run("connection refused is transient", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: url})
		comp, err := client.Send(context.Background(), &BatchRequest{})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if comp.Status != StatusTransportError {
			t.Errorf("Status = %s, want transport_error", comp.Status)
		}
	})

	t.Run("cancelled context returns error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Send(ctx, &BatchRequest{})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("response format is sanitized for strict mode", func(t *testing.T) {
		var received openRouterRequest
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&received)
			w.Write([]byte(`{"id":"x","model":"m","choices":[{"message":{"role":"assistant","content":"{}"}}]}`))
		}))
		defer server.Close()

		client := NewOpenRouterClient(OpenRouterConfig{APIKey: "k", BaseURL: server.URL})
		_, err := client.Send(context.Background(), &BatchRequest{
			Model: "openai/gpt-4.1",
			ResponseFormat: &ResponseFormat{
				Type:       "json_schema",
				JSONSchema: json.RawMessage(`{"name":"x","schema":{"type":"string","minLength":1}}`),
			},
		})
		if err != nil {
			t.Fatalf("Send() error = %v", err)
		}
		if received.ResponseFormat == nil {
			t.Fatal("expected response_format to be sent")
		}
		if got := string(received.ResponseFormat.JSONSchema); got != `{"name":"x","schema":{"type":"string"}}` {
			t.Errorf("JSONSchema = %s", got)
		}
	})
}

func TestAdaptedResponseFormat(t *testing.T) {
	rf := &ResponseFormat{Type: "json_schema", JSONSchema: json.RawMessage(`{"schema":{}}`)}

	t.Run("anthropic models get none", func(t *testing.T) {
		got, err := adaptedResponseFormat("anthropic/claude-sonnet-4", rf)
		if err != nil {
			t.Fatalf("adaptedResponseFormat() error = %v", err)
		}
		if got != nil {
			t.Errorf("expected nil response format, got %+v", got)
		}
	})

	t.Run("property named like a keyword survives", func(t *testing.T) {
		raw := json.RawMessage(`{"properties":{"pattern":{"type":"string","pattern":"^a"}}}`)
		got, err := sanitizeStructuredSchema(raw)
		if err != nil {
			t.Fatalf("sanitizeStructuredSchema() error = %v", err)
		}
		if string(got) != `{"properties":{"pattern":{"type":"string"}}}` {
			t.Errorf("got %s", got)
		}
	})
}
