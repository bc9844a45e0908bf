package sampling

import (
	"encoding/json"
	"testing"
)

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	p := Default()
	if p.N != 1 {
		t.Fatalf("n=%d", p.N)
	}
	if p.BestOf != nil {
		t.Fatalf("best_of should stay unset, got %v", *p.BestOf)
	}
	if p.Temperature != 1.0 || p.TopP != 1.0 {
		t.Fatalf("temperature=%v top_p=%v", p.Temperature, p.TopP)
	}
	if p.TopK != -1 {
		t.Fatalf("top_k=%d", p.TopK)
	}
	if p.MaxTokens != 256 {
		t.Fatalf("max_tokens=%d", p.MaxTokens)
	}
	if p.UseBeamSearch || p.IgnoreEOS {
		t.Fatalf("bool defaults: beam=%v ignore_eos=%v", p.UseBeamSearch, p.IgnoreEOS)
	}
	if p.Stop != nil || p.Logprobs != nil {
		t.Fatalf("stop/logprobs should default to unset")
	}
}

func TestValidateNilMapping(t *testing.T) {
	if got, want := Validate(nil), Default(); got.N != want.N || got.MaxTokens != want.MaxTokens {
		t.Fatalf("nil mapping should yield defaults, got %+v", got)
	}
}

func TestValidateNonNumericTemperature(t *testing.T) {
	for _, v := range []any{"hot", true, []any{1.0}, map[string]any{}} {
		p := Validate(map[string]any{"temperature": v})
		if p.Temperature != 1.0 {
			t.Fatalf("temperature=%v for input %v", p.Temperature, v)
		}
	}
}

func TestValidateOmittedMaxTokens(t *testing.T) {
	p := Validate(map[string]any{"temperature": 0.5})
	if p.MaxTokens != 256 {
		t.Fatalf("max_tokens=%d", p.MaxTokens)
	}
}

func TestValidateBeamSearchStrictBool(t *testing.T) {
	cases := []struct {
		in   any
		want bool
	}{
		{true, true},
		{false, false},
		{"true", false},
		{1, false},
		{1.0, false},
		{nil, false},
	}
	for _, c := range cases {
		p := Validate(map[string]any{"use_beam_search": c.in})
		if p.UseBeamSearch != c.want {
			t.Fatalf("use_beam_search(%v)=%v want %v", c.in, p.UseBeamSearch, c.want)
		}
	}
}

func TestValidateNumericCoercion(t *testing.T) {
	// JSON decoding hands numbers over as float64 and clients sometimes
	// send numeric strings; both must land as the typed value.
	p := Validate(map[string]any{
		"n":          float64(3),
		"top_k":      "40",
		"max_tokens": json.Number("512"),
		"top_p":      "0.9",
	})
	if p.N != 3 {
		t.Fatalf("n=%d", p.N)
	}
	if p.TopK != 40 {
		t.Fatalf("top_k=%d", p.TopK)
	}
	if p.MaxTokens != 512 {
		t.Fatalf("max_tokens=%d", p.MaxTokens)
	}
	if p.TopP != 0.9 {
		t.Fatalf("top_p=%v", p.TopP)
	}
}

func TestValidateBestOfSentinel(t *testing.T) {
	if p := Validate(map[string]any{}); p.BestOf != nil {
		t.Fatalf("absent best_of must stay nil")
	}
	if p := Validate(map[string]any{"best_of": "many"}); p.BestOf != nil {
		t.Fatalf("malformed best_of must stay nil")
	}
	p := Validate(map[string]any{"best_of": float64(4)})
	if p.BestOf == nil || *p.BestOf != 4 {
		t.Fatalf("best_of=%v", p.BestOf)
	}
}

func TestValidateStopSequences(t *testing.T) {
	if p := Validate(map[string]any{"stop": "END"}); len(p.Stop) != 1 || p.Stop[0] != "END" {
		t.Fatalf("stop=%v", p.Stop)
	}
	p := Validate(map[string]any{"stop": []any{"\n\n", "END", 7}})
	if len(p.Stop) != 2 || p.Stop[0] != "\n\n" || p.Stop[1] != "END" {
		t.Fatalf("stop=%v", p.Stop)
	}
	if p := Validate(map[string]any{"stop": 42}); p.Stop != nil {
		t.Fatalf("non-string stop should stay unset, got %v", p.Stop)
	}
}

func TestValidateLogprobs(t *testing.T) {
	if p := Validate(map[string]any{}); p.Logprobs != nil {
		t.Fatalf("absent logprobs must stay nil")
	}
	p := Validate(map[string]any{"logprobs": float64(5)})
	if p.Logprobs == nil || *p.Logprobs != 5 {
		t.Fatalf("logprobs=%v", p.Logprobs)
	}
}

func TestValidateNeverPanics(t *testing.T) {
	// One mapping with every field hostile; the validator must still return
	// a complete configuration.
	raw := map[string]any{
		"n":                 "three",
		"best_of":           map[string]any{},
		"presence_penalty":  []any{},
		"frequency_penalty": "x",
		"temperature":       nil,
		"top_p":             true,
		"top_k":             "??",
		"use_beam_search":   "yes",
		"stop":              3.14,
		"ignore_eos":        "no",
		"max_tokens":        struct{}{},
		"logprobs":          "all",
	}
	p := Validate(raw)
	if p.N != DefaultN || p.MaxTokens != DefaultMaxTokens || p.Temperature != DefaultTemperature {
		t.Fatalf("defaults not applied: %+v", p)
	}
	if p.BestOf != nil || p.Logprobs != nil || p.Stop != nil {
		t.Fatalf("sentinel fields should stay unset: %+v", p)
	}
	if p.UseBeamSearch || p.IgnoreEOS {
		t.Fatalf("bool fields should stay false: %+v", p)
	}
}
