// Package handler adapts platform jobs to generation calls against the
// external inference engine. It owns prompt templating, sampling-parameter
// resolution, and the metrics snapshot attached to every reply; everything
// harder than that (batching, scheduling, execution) belongs to the engine.
package handler

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/RedHitMark/worker-vllm/internal/engine"
	"github.com/RedHitMark/worker-vllm/internal/sampling"
	"github.com/RedHitMark/worker-vllm/internal/template"
	"github.com/RedHitMark/worker-vllm/pkg/types"
)

// Handler turns jobs into engine requests. One Handler serves all concurrent
// jobs; per-request state is confined to the call.
type Handler struct {
	engine engine.Engine
	tmpl   template.Template
	log    zerolog.Logger
}

// New builds a Handler for the configured model. The template is fixed at
// construction since the worker serves exactly one model.
func New(eng engine.Engine, modelName string, log zerolog.Logger) *Handler {
	return &Handler{
		engine: eng,
		tmpl:   template.ForModel(modelName),
		log:    log,
	}
}

// resolve validates the job envelope and produces the templated prompt and
// the complete sampling configuration for the request.
func (h *Handler) resolve(job types.Job) (prompt string, params sampling.Params, in *types.JobInput, err error) {
	h.log.Info().Str("job_id", job.ID).Interface("job", job).Msg("job received by handler")
	in = job.Input
	if in == nil {
		return "", sampling.Params{}, nil, ErrMissingInput("input")
	}
	if in.Prompt == nil {
		return "", sampling.Params{}, nil, ErrMissingInput("prompt")
	}
	prompt = h.tmpl(*in.Prompt)
	if in.SamplingParams != nil {
		params = sampling.Validate(in.SamplingParams)
	} else {
		params = sampling.Default()
	}
	h.log.Debug().Str("job_id", job.ID).Interface("sampling_params", params).Msg("sampling parameters resolved")
	return prompt, params, in, nil
}

// Handle is the non-streaming variant: it drains the engine's intermediate
// states, keeps only the last one, and replies with the final completion
// texts. Engine errors surface unhandled; the platform reports the job as
// failed with no partial output.
func (h *Handler) Handle(ctx context.Context, job types.Job) (*types.Response, error) {
	prompt, params, in, err := h.resolve(job)
	if err != nil {
		return nil, err
	}
	requestID := uuid.NewString()
	results, err := h.engine.Generate(ctx, prompt, params, requestID)
	if err != nil {
		return nil, err
	}

	var last *engine.RequestOutput
	for res := range results {
		if res.Err != nil {
			return nil, res.Err
		}
		out := res.Output
		last = &out
	}
	if last == nil {
		return nil, noOutputError{requestID: requestID}
	}

	texts := completionTexts(*last)
	return &types.Response{
		Outputs:        texts,
		RunpodInternal: types.Internal{Metrics: h.snapshot(in, *last)},
	}, nil
}

// HandleStream is the streaming variant: one chunk per intermediate state,
// emitted at the engine's own cadence with no buffering or coalescing. An
// emit error stops the drain and fails the job.
func (h *Handler) HandleStream(ctx context.Context, job types.Job, emit func(types.StreamChunk) error) error {
	prompt, params, in, err := h.resolve(job)
	if err != nil {
		return err
	}
	requestID := uuid.NewString()
	results, err := h.engine.Generate(ctx, prompt, params, requestID)
	if err != nil {
		return err
	}

	for res := range results {
		if res.Err != nil {
			return res.Err
		}
		chunk := types.StreamChunk{
			Text:           completionTexts(res.Output),
			RunpodInternal: types.Internal{Metrics: h.snapshot(in, res.Output)},
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
	return nil
}

// snapshot merges the engine's metrics mapping with the per-job echo and
// per-completion token counts. The engine mapping is copied, not mutated:
// it is shared across concurrent jobs.
func (h *Handler) snapshot(in *types.JobInput, out engine.RequestOutput) map[string]any {
	m := h.engine.Metrics()
	inputTokens := make([]int, len(out.Outputs))
	outputTokens := make([]int, len(out.Outputs))
	for i, o := range out.Outputs {
		inputTokens[i] = len(out.PromptTokenIDs)
		outputTokens[i] = len(o.TokenIDs)
	}
	m["job_input"] = in
	m["input_tokens"] = inputTokens
	m["output_tokens"] = outputTokens
	return m
}

func completionTexts(out engine.RequestOutput) []string {
	texts := make([]string, len(out.Outputs))
	for i, o := range out.Outputs {
		texts[i] = o.Text
	}
	return texts
}
