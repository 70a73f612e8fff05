package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

// strictUnsupportedKeywords are validation keywords that strict structured
// output modes reject. The canonical schema keeps them for local validation.
var strictUnsupportedKeywords = []string{
	"minLength", "maxLength", "pattern", "minItems", "maxItems", "format",
}

// adaptedResponseFormat returns a provider-compatible response format.
// The caller's schema is left untouched.
func adaptedResponseFormat(model string, rf *ResponseFormat) (*openRouterResponseFormat, error) {
	if rf == nil {
		return nil, nil
	}
	// OpenRouter may route anthropic/* models to backends that reject native
	// structured output. Those models get prompt-only JSON and local salvage.
	if isAnthropicModel(model) {
		return nil, nil
	}

	adaptedSchema := rf.JSONSchema
	if len(adaptedSchema) > 0 {
		var err error
		adaptedSchema, err = sanitizeStructuredSchema(adaptedSchema)
		if err != nil {
			return nil, err
		}
	}

	return &openRouterResponseFormat{
		Type:       rf.Type,
		JSONSchema: adaptedSchema,
	}, nil
}

// sanitizeStructuredSchema removes keywords strict mode does not accept.
func sanitizeStructuredSchema(schemaRaw json.RawMessage) (json.RawMessage, error) {
	if len(schemaRaw) == 0 {
		return schemaRaw, nil
	}

	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("failed to parse structured schema: %w", err)
	}

	stripKeywords(root)

	sanitized, err := json.Marshal(root)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize sanitized structured schema: %w", err)
	}
	return sanitized, nil
}

func isAnthropicModel(model string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(model)), "anthropic/")
}

func stripKeywords(node any) {
	switch n := node.(type) {
	case map[string]any:
		for _, kw := range strictUnsupportedKeywords {
			// "properties" may legitimately hold a field with one of these names.
			if _, isSchemaKeyword := n[kw].(map[string]any); !isSchemaKeyword {
				delete(n, kw)
			}
		}
		for _, v := range n {
			stripKeywords(v)
		}
	case []any:
		for _, v := range n {
			stripKeywords(v)
		}
	}
}
