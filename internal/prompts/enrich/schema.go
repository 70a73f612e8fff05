package enrich

import (
	"encoding/json"

	"github.com/jackzampolin/enrich/internal/providers"
	"github.com/jackzampolin/enrich/internal/salvage"
)

// SchemaName identifies the structured output schema sent to providers.
const SchemaName = "enrichment_results"

// EnvelopeSchema returns the JSON schema for a whole response:
// {"results": [<payload>, ...]}.
func EnvelopeSchema() json.RawMessage {
	var entry map[string]any
	// The embedded payload schema is a fixed, valid document.
	_ = json.Unmarshal(salvage.PayloadSchema(), &entry)
	delete(entry, "$schema")

	schema := map[string]any{
		"type":     "object",
		"required": []string{"results"},
		"properties": map[string]any{
			"results": map[string]any{
				"type":  "array",
				"items": entry,
			},
		},
	}
	data, _ := json.Marshal(schema)
	return data
}

// ResponseFormat returns the structured output request for an enrichment call.
func ResponseFormat() *providers.ResponseFormat {
	wrapper := map[string]any{
		"name":   SchemaName,
		"strict": false,
		"schema": json.RawMessage(EnvelopeSchema()),
	}
	data, _ := json.Marshal(wrapper)
	return &providers.ResponseFormat{
		Type:       "json_schema",
		JSONSchema: data,
	}
}
