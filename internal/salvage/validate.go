package salvage

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jackzampolin/enrich/internal/types"
)

//go:embed payload.schema.json
var payloadSchema []byte

// PayloadSchema returns the JSON schema one results entry must satisfy.
func PayloadSchema() json.RawMessage {
	return json.RawMessage(payloadSchema)
}

// Validator checks results entries against the payload schema and decodes
// the ones that conform.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the payload schema.
func NewValidator() (*Validator, error) {
	return NewValidatorWithSchema(payloadSchema)
}

// NewValidatorWithSchema compiles a caller-supplied entry schema.
func NewValidatorWithSchema(schemaRaw []byte) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("payload.schema.json", bytes.NewReader(schemaRaw)); err != nil {
		return nil, fmt.Errorf("failed to load payload schema: %w", err)
	}
	schema, err := compiler.Compile("payload.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile payload schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// MustValidator is NewValidator for the embedded schema, which always compiles.
func MustValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Rejection records why one entry was dropped.
type Rejection struct {
	Index int
	ID    string
	Err   error
}

// Decoded holds the entries that conformed, keyed by item ID.
type Decoded struct {
	Payloads map[string]types.Payload
	Rejected []Rejection
}

// Decode validates every entry and keeps the conforming ones whose ID is in
// want. Unknown IDs and duplicate IDs are rejected; the first occurrence of an
// ID wins. A nil want accepts every ID.
func (v *Validator) Decode(env Envelope, want map[string]bool) Decoded {
	out := Decoded{Payloads: make(map[string]types.Payload, len(env.Results))}

	for i, raw := range env.Results {
		var doc any
		if err := json.Unmarshal(raw, &doc); err != nil {
			out.Rejected = append(out.Rejected, Rejection{Index: i, Err: fmt.Errorf("entry is not JSON: %w", err)})
			continue
		}
		id := entryID(doc)
		if err := v.schema.Validate(doc); err != nil {
			out.Rejected = append(out.Rejected, Rejection{Index: i, ID: id, Err: fmt.Errorf("entry does not match schema: %w", err)})
			continue
		}

		var p types.Payload
		if err := json.Unmarshal(raw, &p); err != nil {
			out.Rejected = append(out.Rejected, Rejection{Index: i, ID: id, Err: fmt.Errorf("failed to decode entry: %w", err)})
			continue
		}
		if want != nil && !want[p.ID] {
			out.Rejected = append(out.Rejected, Rejection{Index: i, ID: p.ID, Err: fmt.Errorf("unexpected item id %q", p.ID)})
			continue
		}
		if _, dup := out.Payloads[p.ID]; dup {
			out.Rejected = append(out.Rejected, Rejection{Index: i, ID: p.ID, Err: fmt.Errorf("duplicate item id %q", p.ID)})
			continue
		}
		out.Payloads[p.ID] = p
	}
	return out
}

func entryID(doc any) string {
	if m, ok := doc.(map[string]any); ok {
		switch id := m["id"].(type) {
		case string:
			return id
		case float64:
			return fmt.Sprintf("%v", id)
		}
	}
	return ""
}
