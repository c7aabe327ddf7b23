package json

import (
	"bytes"
	"strings"
	"testing"
)

type sample struct {
	Name    string  `json:"name"`
	Age     int     `json:"age"`
	Balance float64 `json:"balance,omitempty"`
}

func TestMarshalUnmarshal(t *testing.T) {
	original := sample{Name: "Test", Age: 25, Balance: 100.50}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if !strings.Contains(string(data), `"name":"Test"`) {
		t.Errorf("Marshal output missing name field: %s", data)
	}

	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded != original {
		t.Errorf("Unmarshal mismatch: got %+v, want %+v", decoded, original)
	}
}

func TestMarshalCanonical(t *testing.T) {
	v := map[string]any{"b": 1, "a": map[string]any{"z": true, "y": "<x>"}, "c": nil}
	for i := 0; i < 10; i++ {
		data, err := MarshalCanonical(v)
		if err != nil {
			t.Fatalf("MarshalCanonical: %v", err)
		}
		if want := `{"a":{"y":"<x>","z":true},"b":1,"c":null}`; string(data) != want {
			t.Fatalf("got %s, want %s", data, want)
		}
	}
}

func TestIndent(t *testing.T) {
	if got := string(Indent([]byte(` {"a":[1,2]} `), "  ")); got != "{\n  \"a\": [\n    1,\n    2\n  ]\n}" {
		t.Errorf("Indent = %q", got)
	}
	if got := string(Indent([]byte("not json"), "  ")); got != "not json" {
		t.Errorf("Indent(invalid) = %q", got)
	}
}

func TestEncoderDecoder(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(sample{Name: "<a>", Age: 1}); err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !strings.Contains(buf.String(), `"<a>"`) {
		t.Errorf("HTML escaped: %s", buf.String())
	}

	dec := NewDecoder(strings.NewReader(`{"name":"x","extra":1}`))
	dec.DisallowUnknownFields()
	var s sample
	if err := dec.Decode(&s); err == nil {
		t.Error("expected error for unknown field")
	}

	dec = NewDecoder(strings.NewReader(`{"n":12345678901234567890}`))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := m["n"].(Number); !ok {
		t.Errorf("n decoded as %T, want Number", m["n"])
	}
}

func TestValid(t *testing.T) {
	if !Valid([]byte(`[1,{"a":null}]`)) || Valid([]byte(`{"a":`)) {
		t.Error("Valid misreported")
	}
}
