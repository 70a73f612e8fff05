package salvage

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestValidator_Decode(t *testing.T) {
	v := MustValidator()

	env := Envelope{Results: []json.RawMessage{
		json.RawMessage(`{"id":"q1","answer":"A","explanation":"fine","option_explanations":[{"label":"A","text":"yes"}]}`),
		json.RawMessage(`{"id":"q2","answer":"B"}`),                           // missing explanation
		json.RawMessage(`{"id":"q3","answer":["A","C"],"explanation":"x"}`),   // wrong type
		json.RawMessage(`{"id":"zz","answer":"A","explanation":"x"}`),         // not requested
		json.RawMessage(`{"id":"q1","answer":"C","explanation":"duplicate"}`), // duplicate
		json.RawMessage(`{"id":"q4","answer":"","explanation":""}`),           // conforms, gate decides
	}}
	want := map[string]bool{"q1": true, "q2": true, "q3": true, "q4": true}

	got := v.Decode(env, want)

	if len(got.Payloads) != 2 {
		t.Fatalf("kept %d payloads, want 2", len(got.Payloads))
	}
	if p := got.Payloads["q1"]; p.Answer != "A" || p.OptionText("A") != "yes" {
		t.Errorf("q1 = %+v", p)
	}
	if _, ok := got.Payloads["q4"]; !ok {
		t.Error("q4 should pass the schema with empty strings")
	}
	if len(got.Rejected) != 4 {
		t.Errorf("rejected %d entries, want 4", len(got.Rejected))
	}

	ids := make([]string, 0, len(got.Rejected))
	for _, r := range got.Rejected {
		ids = append(ids, r.ID)
		if r.Err == nil {
			t.Errorf("rejection %d has no error", r.Index)
		}
	}
	if strings.Join(ids, ",") != "q2,q3,zz,q1" {
		t.Errorf("rejected ids = %v", ids)
	}
}

func TestValidator_NilWantAcceptsAll(t *testing.T) {
	v := MustValidator()
	env := Envelope{Results: []json.RawMessage{
		json.RawMessage(`{"id":"anything","answer":"A","explanation":"x"}`),
	}}
	if got := v.Decode(env, nil); len(got.Payloads) != 1 {
		t.Errorf("kept %d payloads, want 1", len(got.Payloads))
	}
}

func TestValidator_NonObjectEntry(t *testing.T) {
	v := MustValidator()
	env := Envelope{Results: []json.RawMessage{json.RawMessage(`"just a string"`)}}
	got := v.Decode(env, nil)
	if len(got.Payloads) != 0 || len(got.Rejected) != 1 {
		t.Errorf("got %d payloads / %d rejected, want 0 / 1", len(got.Payloads), len(got.Rejected))
	}
}

func TestNewValidatorWithSchema_Invalid(t *testing.T) {
	if _, err := NewValidatorWithSchema([]byte(`{"type": 12}`)); err == nil {
		t.Error("expected compile error for invalid schema")
	}
}

func TestPayloadSchema(t *testing.T) {
	var doc map[string]any
	if err := json.Unmarshal(PayloadSchema(), &doc); err != nil {
		t.Fatalf("embedded schema is not JSON: %v", err)
	}
	if doc["type"] != "object" {
		t.Errorf("type = %v, want object", doc["type"])
	}
}
