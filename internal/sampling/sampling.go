package sampling

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Defaults mirror the engine's own SamplingParams defaults. When a field is
// absent or malformed in the job input, the value below is what the engine
// would have chosen anyway.
const (
	DefaultN                = 1
	DefaultPresencePenalty  = 0.0
	DefaultFrequencyPenalty = 0.0
	DefaultTemperature      = 1.0
	DefaultTopP             = 1.0
	DefaultTopK             = -1
	DefaultMaxTokens        = 256
)

// Params is the fully validated/defaulted set of generation-control options
// passed to the inference engine. BestOf and Logprobs stay nil when unset so
// the engine resolves its own defaults for them.
type Params struct {
	N                int      `json:"n"`
	BestOf           *int     `json:"best_of,omitempty"`
	PresencePenalty  float64  `json:"presence_penalty"`
	FrequencyPenalty float64  `json:"frequency_penalty"`
	Temperature      float64  `json:"temperature"`
	TopP             float64  `json:"top_p"`
	TopK             int      `json:"top_k"`
	UseBeamSearch    bool     `json:"use_beam_search"`
	Stop             []string `json:"stop,omitempty"`
	IgnoreEOS        bool     `json:"ignore_eos"`
	MaxTokens        int      `json:"max_tokens"`
	Logprobs         *int     `json:"logprobs,omitempty"`
}

// Default returns Params with every field at its engine default.
func Default() Params {
	return Params{
		N:                DefaultN,
		PresencePenalty:  DefaultPresencePenalty,
		FrequencyPenalty: DefaultFrequencyPenalty,
		Temperature:      DefaultTemperature,
		TopP:             DefaultTopP,
		TopK:             DefaultTopK,
		MaxTokens:        DefaultMaxTokens,
	}
}

// Validate maps a loosely-typed options mapping to a complete Params.
// Every field is coerced independently; a value that cannot be coerced falls
// back to its default. Validate never fails and performs no cross-field
// checks (top_p is not clamped to [0,1], n is not bounded, and so on).
func Validate(raw map[string]any) Params {
	p := Default()
	if raw == nil {
		return p
	}
	p.N = intOr(raw["n"], p.N)
	p.BestOf = intPtr(raw["best_of"])
	p.PresencePenalty = floatOr(raw["presence_penalty"], p.PresencePenalty)
	p.FrequencyPenalty = floatOr(raw["frequency_penalty"], p.FrequencyPenalty)
	p.Temperature = floatOr(raw["temperature"], p.Temperature)
	p.TopP = floatOr(raw["top_p"], p.TopP)
	p.TopK = intOr(raw["top_k"], p.TopK)
	p.UseBeamSearch = boolOr(raw["use_beam_search"], false)
	p.Stop = stopSequences(raw["stop"])
	p.IgnoreEOS = boolOr(raw["ignore_eos"], false)
	p.MaxTokens = intOr(raw["max_tokens"], p.MaxTokens)
	p.Logprobs = intPtr(raw["logprobs"])
	return p
}

// intOr coerces v to int. JSON numbers arrive as float64 and are truncated;
// numeric strings are parsed. Anything else yields def.
func intOr(v any, def int) int {
	n, ok := toInt(v)
	if !ok {
		return def
	}
	return n
}

// intPtr is intOr with a nil default, for fields whose absence must remain
// distinguishable from any concrete value.
func intPtr(v any) *int {
	n, ok := toInt(v)
	if !ok {
		return nil
	}
	return &n
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int32:
		return int(x), true
	case int64:
		return int(x), true
	case float32:
		return int(x), true
	case float64:
		return int(x), true
	case json.Number:
		if n, err := strconv.Atoi(x.String()); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return int(f), true
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(x)); err == nil {
			return n, true
		}
	}
	return 0, false
}

func floatOr(v any, def float64) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int32:
		return float64(x)
	case int64:
		return float64(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f
		}
	}
	return def
}

// boolOr passes v through only when it is already a bool. String "true",
// numeric 1 and the like all yield def.
func boolOr(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

// stopSequences renders the opaque stop field. A bare string becomes a
// single-element list, a list keeps its string elements, and anything else
// leaves the field unset.
func stopSequences(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return []string{x}
	case []string:
		if len(x) == 0 {
			return nil
		}
		out := make([]string, len(x))
		copy(out, x)
		return out
	case []any:
		var out []string
		for _, e := range x {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
