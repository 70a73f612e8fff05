// Package salvage recovers the structured results envelope from raw model
// output that may be fenced, wrapped in prose, or truncated mid-object.
//
// Recovery runs as an ordered chain of stages. Each stage is a pure function
// of the text and the first stage that yields an envelope wins; later stages
// are never attempted. When no stage succeeds the text simply has no
// structured result, which is not an error.
package salvage

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
)

// Stage identifies which recovery step produced an envelope.
type Stage int

const (
	// StageNone means no structured result was found.
	StageNone Stage = iota
	// StageDirect parses the full text as-is.
	StageDirect
	// StageFenced parses the first markdown code block.
	StageFenced
	// StageMarker parses from the first {"results" marker.
	StageMarker
	// StageBalanced repairs a truncated object by closing open brackets.
	StageBalanced
)

func (s Stage) String() string {
	switch s {
	case StageDirect:
		return "direct"
	case StageFenced:
		return "fenced"
	case StageMarker:
		return "marker"
	case StageBalanced:
		return "balanced"
	default:
		return "none"
	}
}

// Envelope is the typed top-level shape every response must decode into.
// Entries stay raw until they are validated one by one.
type Envelope struct {
	Results []json.RawMessage `json:"results"`
}

// Outcome is the result of running the chain over one response.
type Outcome struct {
	Envelope Envelope
	Stage    Stage
}

// OK reports whether any stage recovered an envelope.
func (o Outcome) OK() bool {
	return o.Stage != StageNone
}

// stageFunc attempts one recovery strategy.
type stageFunc struct {
	stage Stage
	run   func(text string) (Envelope, bool)
}

// Salvager runs the recovery chain. The zero value is not usable; use New.
type Salvager struct {
	stages []stageFunc
}

// New returns a Salvager with the standard four-stage chain.
func New() *Salvager {
	return &Salvager{stages: []stageFunc{
		{StageDirect, parseDirect},
		{StageFenced, parseFenced},
		{StageMarker, parseFromMarker},
		{StageBalanced, parseBalanced},
	}}
}

// Salvage runs the chain over text, stopping at the first success.
func (s *Salvager) Salvage(text string) Outcome {
	for _, st := range s.stages {
		if env, ok := st.run(text); ok {
			return Outcome{Envelope: env, Stage: st.stage}
		}
	}
	return Outcome{Stage: StageNone}
}

// Salvage runs the standard chain over text.
func Salvage(text string) Outcome {
	return defaultSalvager.Salvage(text)
}

var defaultSalvager = New()

// decodeEnvelope succeeds only for an object with a non-null results array.
func decodeEnvelope(b []byte) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, false
	}
	if env.Results == nil {
		return Envelope{}, false
	}
	return env, true
}

func parseDirect(text string) (Envelope, bool) {
	return decodeEnvelope([]byte(strings.TrimSpace(text)))
}

var fenceOpen = regexp.MustCompile("(?i)```[ \t]*(?:json)?[ \t]*\r?\n?")

// parseFenced parses the body of the first code fence. The closing fence is
// optional so a truncated fenced block still reaches the decoder.
func parseFenced(text string) (Envelope, bool) {
	loc := fenceOpen.FindStringIndex(text)
	if loc == nil {
		return Envelope{}, false
	}
	body := text[loc[1]:]
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return decodeEnvelope([]byte(strings.TrimSpace(body)))
}

var resultsMarker = regexp.MustCompile(`\{\s*"results"`)

// parseFromMarker decodes the first value starting at the results marker.
// Trailing prose after the object is ignored.
func parseFromMarker(text string) (Envelope, bool) {
	loc := resultsMarker.FindStringIndex(text)
	if loc == nil {
		return Envelope{}, false
	}
	dec := json.NewDecoder(strings.NewReader(text[loc[0]:]))
	var env Envelope
	if err := dec.Decode(&env); err != nil || env.Results == nil {
		return Envelope{}, false
	}
	return env, true
}

// maxCutbacks bounds how many times balancing retries on a shorter prefix.
const maxCutbacks = 8

// parseBalanced repairs truncated output: it closes an open string, drops a
// dangling comma or key separator, and appends the missing closers. If the
// repaired text still does not decode, it cuts back to the last complete
// object and tries again.
func parseBalanced(text string) (Envelope, bool) {
	start := -1
	if loc := resultsMarker.FindStringIndex(text); loc != nil {
		start = loc[0]
	} else {
		start = strings.Index(text, "{")
	}
	if start < 0 {
		return Envelope{}, false
	}
	candidate := text[start:]

	for i := 0; i <= maxCutbacks; i++ {
		if env, ok := decodeEnvelope(balance(candidate)); ok {
			return env, true
		}
		cut := lastObjectEnd(candidate)
		if cut <= 0 {
			break
		}
		candidate = candidate[:cut]
	}
	return Envelope{}, false
}

// balance closes whatever the scanner left open at the end of s.
func balance(s string) []byte {
	var (
		stack    []byte
		inString bool
		escaped  bool
		end      = len(s)
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				// Stray closer: everything after it is noise.
				end = i
				i = len(s)
				continue
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				end = i + 1
				i = len(s)
			}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(s[:end])
	if inString && end == len(s) {
		if escaped {
			// Drop the dangling backslash so the closing quote is not escaped.
			buf.Truncate(buf.Len() - 1)
		}
		buf.WriteByte('"')
	}

	out := bytes.TrimRight(buf.Bytes(), " \t\r\n")
	for len(out) > 0 && (out[len(out)-1] == ',' || out[len(out)-1] == ':') {
		if out[len(out)-1] == ':' {
			out = append(out, "null"...)
			break
		}
		out = bytes.TrimRight(out[:len(out)-1], " \t\r\n")
	}
	for i := len(stack) - 1; i >= 0; i-- {
		out = append(out, stack[i])
	}
	return out
}

// lastObjectEnd returns the offset just past the last '}' that is not inside
// a string, excluding a closer at the very end of s, or -1.
func lastObjectEnd(s string) int {
	var (
		inString bool
		escaped  bool
		last     = -1
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '}':
			if i+1 < len(s) {
				last = i + 1
			}
		}
	}
	return last
}
