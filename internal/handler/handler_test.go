package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/RedHitMark/worker-vllm/internal/engine"
	"github.com/RedHitMark/worker-vllm/internal/sampling"
	"github.com/RedHitMark/worker-vllm/pkg/types"
)

// fakeEngine replays a scripted sequence of intermediate states and records
// what the handler asked for.
type fakeEngine struct {
	states  []engine.RequestOutput
	err     error // delivered after states, as a terminal stream error
	metrics map[string]any

	gotPrompt    string
	gotParams    sampling.Params
	gotRequestID string
	calls        int
}

func (f *fakeEngine) Generate(ctx context.Context, prompt string, params sampling.Params, requestID string) (<-chan engine.Result, error) {
	f.calls++
	f.gotPrompt = prompt
	f.gotParams = params
	f.gotRequestID = requestID
	ch := make(chan engine.Result)
	go func() {
		defer close(ch)
		for _, s := range f.states {
			ch <- engine.Result{Output: s}
		}
		if f.err != nil {
			ch <- engine.Result{Err: f.err}
		}
	}()
	return ch, nil
}

func (f *fakeEngine) SchedulerStats() engine.SchedulerStats { return engine.SchedulerStats{} }

func (f *fakeEngine) Metrics() map[string]any {
	// Copy, like the real client, so the handler may attach keys.
	out := make(map[string]any, len(f.metrics))
	for k, v := range f.metrics {
		out[k] = v
	}
	return out
}

func threeStates() []engine.RequestOutput {
	ids := []int{1, 2, 3}
	return []engine.RequestOutput{
		{Prompt: "p", PromptTokenIDs: ids, Outputs: []engine.CompletionOutput{{Text: "He"}}},
		{Prompt: "p", PromptTokenIDs: ids, Outputs: []engine.CompletionOutput{{Text: "Hello", TokenIDs: []int{5, 6}}}},
		{Prompt: "p", PromptTokenIDs: ids, Outputs: []engine.CompletionOutput{
			{Text: "Hello world", TokenIDs: []int{5, 6, 7}},
			{Text: "Hello there", TokenIDs: []int{5, 8}},
		}, Finished: true},
	}
}

func job(prompt string, params map[string]any) types.Job {
	return types.Job{ID: "job-1", Input: &types.JobInput{Prompt: &prompt, SamplingParams: params}}
}

func TestHandleKeepsOnlyLastState(t *testing.T) {
	eng := &fakeEngine{states: threeStates(), metrics: map[string]any{"kv_cache_usage": 0.5}}
	h := New(eng, "mistral-7b", zerolog.Nop())

	resp, err := h.Handle(context.Background(), job("hi", nil))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(resp.Outputs) != 2 {
		t.Fatalf("outputs=%v", resp.Outputs)
	}
	if resp.Outputs[0] != "Hello world" || resp.Outputs[1] != "Hello there" {
		t.Fatalf("outputs=%v", resp.Outputs)
	}

	m := resp.RunpodInternal.Metrics
	if m["kv_cache_usage"] != 0.5 {
		t.Fatalf("engine metrics missing: %v", m)
	}
	inTok, ok := m["input_tokens"].([]int)
	if !ok || len(inTok) != 2 || inTok[0] != 3 || inTok[1] != 3 {
		t.Fatalf("input_tokens=%v", m["input_tokens"])
	}
	outTok, ok := m["output_tokens"].([]int)
	if !ok || len(outTok) != 2 || outTok[0] != 3 || outTok[1] != 2 {
		t.Fatalf("output_tokens=%v", m["output_tokens"])
	}
	if m["job_input"] == nil {
		t.Fatalf("job_input not echoed")
	}
}

func TestHandleStreamEmitsPerState(t *testing.T) {
	eng := &fakeEngine{states: threeStates()}
	h := New(eng, "mistral-7b", zerolog.Nop())

	var chunks []types.StreamChunk
	err := h.HandleStream(context.Background(), job("hi", nil), func(c types.StreamChunk) error {
		chunks = append(chunks, c)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks got %d", len(chunks))
	}
	if chunks[0].Text[0] != "He" || chunks[2].Text[0] != "Hello world" {
		t.Fatalf("chunks=%v", chunks)
	}
	for i, c := range chunks {
		if c.RunpodInternal.Metrics == nil {
			t.Fatalf("chunk %d missing metrics snapshot", i)
		}
	}
}

func TestHandleAppliesTemplateAndParams(t *testing.T) {
	eng := &fakeEngine{states: threeStates()}
	h := New(eng, "Llama-2-7b-chat-hf", zerolog.Nop())

	_, err := h.Handle(context.Background(), job("hi", map[string]any{"temperature": 0.2, "max_tokens": float64(64)}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if eng.gotPrompt == "hi" {
		t.Fatalf("chat model should have templated the prompt, got %q", eng.gotPrompt)
	}
	if eng.gotParams.Temperature != 0.2 || eng.gotParams.MaxTokens != 64 {
		t.Fatalf("params=%+v", eng.gotParams)
	}
	if eng.gotRequestID == "" {
		t.Fatalf("request id not generated")
	}
}

func TestHandleDefaultsWhenNoSamplingParams(t *testing.T) {
	eng := &fakeEngine{states: threeStates()}
	h := New(eng, "mistral-7b", zerolog.Nop())
	if _, err := h.Handle(context.Background(), job("hi", nil)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	p := eng.gotParams
	if p.N != 1 || p.Temperature != 1.0 || p.TopP != 1.0 || p.TopK != -1 || p.MaxTokens != 256 {
		t.Fatalf("params=%+v", p)
	}
	if p.BestOf != nil || p.Logprobs != nil || p.Stop != nil {
		t.Fatalf("sentinel fields should stay unset: %+v", p)
	}
}

func TestHandleMissingPrompt(t *testing.T) {
	eng := &fakeEngine{states: threeStates()}
	h := New(eng, "mistral-7b", zerolog.Nop())

	_, err := h.Handle(context.Background(), types.Job{Input: &types.JobInput{}})
	if !IsMissingInput(err) {
		t.Fatalf("expected missing-input error, got %v", err)
	}
	_, err = h.Handle(context.Background(), types.Job{})
	if !IsMissingInput(err) {
		t.Fatalf("expected missing-input error for nil input, got %v", err)
	}
	if eng.calls != 0 {
		t.Fatalf("engine must not be called for malformed jobs")
	}
}

func TestHandleEnginePropagatesError(t *testing.T) {
	boom := errors.New("scheduler blew up")
	eng := &fakeEngine{states: threeStates()[:1], err: boom}
	h := New(eng, "mistral-7b", zerolog.Nop())

	if _, err := h.Handle(context.Background(), job("hi", nil)); !errors.Is(err, boom) {
		t.Fatalf("expected engine error to propagate, got %v", err)
	}

	var chunks int
	err := h.HandleStream(context.Background(), job("hi", nil), func(types.StreamChunk) error {
		chunks++
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected engine error to propagate, got %v", err)
	}
	if chunks != 1 {
		t.Fatalf("states before the failure still stream, got %d chunks", chunks)
	}
}

func TestUniqueRequestIDs(t *testing.T) {
	eng := &fakeEngine{states: threeStates()}
	h := New(eng, "mistral-7b", zerolog.Nop())

	ids := map[string]bool{}
	for i := 0; i < 5; i++ {
		if _, err := h.Handle(context.Background(), job("hi", nil)); err != nil {
			t.Fatalf("handle: %v", err)
		}
		if ids[eng.gotRequestID] {
			t.Fatalf("request id %q reused", eng.gotRequestID)
		}
		ids[eng.gotRequestID] = true
	}
}
