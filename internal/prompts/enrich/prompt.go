// Package enrich renders enrichment prompts for a chunk of items.
package enrich

import (
	_ "embed"
	"fmt"

	"github.com/google/uuid"

	"github.com/jackzampolin/enrich/internal/prompts"
	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/types"
)

//go:embed system.tmpl
var systemPrompt string

//go:embed user.tmpl
var userPromptTmpl string

// Prompt keys
const (
	SystemPromptKey = "enrich.system"
	UserPromptKey   = "enrich.user"
)

// SystemPrompt returns the embedded system prompt.
func SystemPrompt() string {
	return systemPrompt
}

// UserPrompt renders the embedded user prompt for items.
func UserPrompt(items []types.Item) (string, error) {
	return prompts.Render(UserPromptKey, userPromptTmpl, userData{Items: items})
}

type userData struct {
	Items []types.Item
}

// RegisterPrompts registers the enrichment prompts with the resolver.
func RegisterPrompts(r *prompts.Resolver) {
	r.Register(prompts.EmbeddedPrompt{
		Key:         SystemPromptKey,
		Text:        systemPrompt,
		Description: "Enrichment system prompt - answer, explanation and per-option explanations",
	})
	r.Register(prompts.EmbeddedPrompt{
		Key:         UserPromptKey,
		Text:        userPromptTmpl,
		Description: "Enrichment user prompt template, rendered once per chunk",
	})
}

// Builder turns a chunk of items into a provider request.
type Builder struct {
	resolver    *prompts.Resolver
	model       string
	temperature float64
	maxTokens   int
	structured  bool
}

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Resolver supplies overrides. Nil uses the embedded prompts.
	Resolver *prompts.Resolver

	Model       string
	Temperature float64
	MaxTokens   int

	// Structured requests provider-side JSON schema enforcement.
	Structured bool
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) *Builder {
	return &Builder{
		resolver:    cfg.Resolver,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		structured:  cfg.Structured,
	}
}

// Build renders the request for items.
func (b *Builder) Build(items []types.Item) (*providers.BatchRequest, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no items to render")
	}

	system, user := systemPrompt, userPromptTmpl
	if b.resolver != nil {
		if p, err := b.resolver.Resolve(SystemPromptKey); err == nil {
			system = p.Text
		}
		if p, err := b.resolver.Resolve(UserPromptKey); err == nil {
			user = p.Text
		}
	}

	userText, err := prompts.Render(UserPromptKey, user, userData{Items: items})
	if err != nil {
		return nil, err
	}

	req := &providers.BatchRequest{
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userText},
		},
		Items:       items,
		Model:       b.model,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		RequestID:   uuid.NewString(),
	}
	if b.structured {
		req.ResponseFormat = ResponseFormat()
	}
	return req, nil
}
