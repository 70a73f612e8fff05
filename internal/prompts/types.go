// Package prompts provides prompt management with embedded defaults and
// operator overrides.
//
// Embedded .tmpl files in code are the source of truth for defaults. An
// operator can override any prompt by placing a file named "<key>.tmpl" in
// the configured prompts directory.
//
// Resolution order:
//  1. Override (from the prompts directory or SetOverride)
//  2. Embedded default
package prompts

// EmbeddedPrompt represents a prompt loaded from an embedded .tmpl file.
type EmbeddedPrompt struct {
	Key         string   // Hierarchical key: enrich.system
	Text        string   // The prompt text (Go template)
	Description string   // Human-readable description
	Variables   []string // Extracted template variables
	Hash        string   // SHA256 hash of the text for change detection
}

// ResolvedPrompt is the result of resolving a prompt key.
type ResolvedPrompt struct {
	Key        string   `json:"key"`
	Text       string   `json:"text"`
	Variables  []string `json:"variables,omitempty"`
	IsOverride bool     `json:"is_override"`
	Hash       string   `json:"hash"` // Identifies the exact prompt text used
}
