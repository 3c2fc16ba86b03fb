package bare

import (
	"encoding/json"
	"testing"
)

func TestHeaderValueJSONRoundTrip(t *testing.T) {
	single := NewSingleValue("text/plain")
	data, err := json.Marshal(single)
	if err != nil {
		t.Fatal(err)
	}

	var got HeaderValue
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.IsMulti() || got.Flatten() != "text/plain" {
		t.Errorf("single round trip mismatch: %+v", got)
	}

	multi := NewMultiValue([]string{"a", "b", "c"})
	data, err = json.Marshal(multi)
	if err != nil {
		t.Fatal(err)
	}

	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if !got.IsMulti() || got.Flatten() != "a, b, c" {
		t.Errorf("multi round trip mismatch: %+v", got)
	}
}

func TestHeaderValueUnmarshalRejectsObject(t *testing.T) {
	var h HeaderValue
	if err := json.Unmarshal([]byte(`{"not":"valid"}`), &h); err == nil {
		t.Fatal("expected an error unmarshaling a JSON object into HeaderValue")
	}
}

func TestParseBareHeaders(t *testing.T) {
	raw := `{"accept":"text/html","x-forwarded":["a","b"]}`

	h, err := ParseBareHeaders([]byte(raw))
	if err != nil {
		t.Fatalf("ParseBareHeaders: %v", err)
	}

	if h["accept"].Flatten() != "text/html" {
		t.Errorf("accept = %+v", h["accept"])
	}
	if !h["x-forwarded"].IsMulti() {
		t.Error("x-forwarded should be multi-valued")
	}
}

func TestRawHeaderNamesPreservesFirstCasing(t *testing.T) {
	seq := []string{"Content-Type", "text/html", "content-type", "text/plain"}

	names := RawHeaderNames(seq)
	if len(names) != 1 || names[0] != "Content-Type" {
		t.Errorf("RawHeaderNames = %v, want [Content-Type]", names)
	}
}

func TestMapHeadersFromArray(t *testing.T) {
	raw := []string{"Content-Type", "v", "X-Custom", "v"}
	names := RawHeaderNames(raw)

	lower := map[string][]string{
		"content-type": {"text/html"},
		"x-custom":     {"1", "2"},
	}

	out := MapHeadersFromArray(names, lower)

	if got := out["Content-Type"]; len(got) != 1 || got[0] != "text/html" {
		t.Errorf("Content-Type = %v", got)
	}
	if got := out["X-Custom"]; len(got) != 2 {
		t.Errorf("X-Custom = %v", got)
	}
}
