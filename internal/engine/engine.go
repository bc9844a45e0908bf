// Package engine defines the surface of the external inference engine the
// worker integrates with. The engine owns batching, KV-cache management and
// request scheduling; this package only names the contract and provides an
// HTTP client for an already-running engine server.
package engine

import (
	"context"

	"github.com/RedHitMark/worker-vllm/internal/sampling"
)

// CompletionOutput is one generated continuation of a request.
type CompletionOutput struct {
	Index    int    `json:"index"`
	Text     string `json:"text"`
	TokenIDs []int  `json:"token_ids"`
}

// RequestOutput is one intermediate state of an in-flight generation request:
// the realized prompt plus the current best completions. The engine decides
// how often states are emitted and in what order requests advance.
type RequestOutput struct {
	RequestID      string             `json:"request_id"`
	Prompt         string             `json:"prompt"`
	PromptTokenIDs []int              `json:"prompt_token_ids"`
	Outputs        []CompletionOutput `json:"outputs"`
	Finished       bool               `json:"finished"`
}

// Result pairs an intermediate state with a terminal stream error. After a
// Result with Err set, no further results arrive for that request.
type Result struct {
	Output RequestOutput
	Err    error
}

// SchedulerStats is a snapshot of the engine scheduler's queue depths.
type SchedulerStats struct {
	// Requests admitted and currently running in a batch.
	Running int `json:"running"`
	// Requests waiting for admission.
	Waiting int `json:"waiting"`
	// Requests swapped out of active memory.
	Swapped int `json:"swapped"`
}

// Engine is the asynchronous generation API consumed by the worker. One
// long-lived instance serves many concurrent logical requests, each isolated
// by its request id.
type Engine interface {
	// Generate submits one request and returns the engine's sequence of
	// intermediate states. The channel is closed when the request finishes;
	// a mid-stream failure is delivered as a final Result with Err set.
	Generate(ctx context.Context, prompt string, params sampling.Params, requestID string) (<-chan Result, error)

	// SchedulerStats reports the engine's current queue depths.
	SchedulerStats() SchedulerStats

	// Metrics returns the engine's counter mapping. The engine refreshes it
	// on its own cadence, so consecutive calls may return identical data.
	Metrics() map[string]any
}
