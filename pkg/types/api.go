package types

// Job is one unit of work delivered by the serverless platform.
type Job struct {
	// Platform-assigned job identifier.
	// example: 7a7f7f5e-2b31-4c1c-9e2e-9a1f6a1f2b3c
	ID string `json:"id,omitempty"`
	// Input payload for the job. Required.
	Input *JobInput `json:"input"`
}

// JobInput carries the prompt and optional generation options for one job.
type JobInput struct {
	// Required prompt text. A nil pointer means the field was absent and the
	// job must fail; an empty string is a present (if unusual) prompt.
	// example: Write a haiku about the ocean.
	Prompt *string `json:"prompt"`
	// Optional loosely-typed sampling options. Individual fields are
	// defaulted and coerced by the sampling validator; nothing here is
	// ever rejected.
	SamplingParams map[string]any `json:"sampling_params,omitempty"`
}

// Internal carries platform-internal bookkeeping attached to every reply.
type Internal struct {
	Metrics map[string]any `json:"metrics"`
}

// Response is the non-streaming worker reply: the final completion texts for
// the job plus a metrics snapshot.
type Response struct {
	Outputs        []string `json:"outputs"`
	RunpodInternal Internal `json:"runpod_internal"`
}

// StreamChunk is emitted once per intermediate engine state while a
// generation request is in flight. Text holds the current best completion
// texts at that point.
type StreamChunk struct {
	Text           []string `json:"text"`
	RunpodInternal Internal `json:"runpod_internal"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	// Overall worker status.
	// example: ok
	Status string `json:"status" example:"ok"`
}

// ConcurrencyResponse is returned by GET /concurrency and polled by the
// platform's autoscaler.
type ConcurrencyResponse struct {
	// True when the engine's pending queue is deep enough that the platform
	// should add capacity.
	ScaleUp bool `json:"scale_up"`
}
