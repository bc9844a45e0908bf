package serverless

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RedHitMark/worker-vllm/pkg/types"
)

// HTTPError allows handlers to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// maxBodyBytes limits job payload size. 1 MiB covers any realistic prompt.
const maxBodyBytes int64 = 1 << 20

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}

// errorStatus maps a handler error to an HTTP status. Anything the handler
// does not classify is a plain job failure.
func errorStatus(err error) int {
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

func decodeJob(w http.ResponseWriter, r *http.Request) (types.Job, bool) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return types.Job{}, false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var job types.Job
	if err := json.NewDecoder(r.Body).Decode(&job); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return types.Job{}, false
	}
	return job, true
}

// NewMux builds the worker-protocol router.
func NewMux(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))
	r.Use(MetricsMiddleware)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	log := cfg.Logger

	r.Post("/runsync", func(w http.ResponseWriter, r *http.Request) {
		job, ok := decodeJob(w, r)
		if !ok {
			return
		}
		start := time.Now()
		resp, err := runSync(r.Context(), cfg, job)
		if err != nil {
			status := errorStatus(err)
			jobsTotal.WithLabelValues("sync", "error").Inc()
			log.Error().Err(err).Str("job_id", job.ID).Int("status", status).
				Dur("dur", time.Since(start)).Msg("job failed")
			writeJSONError(w, status, err.Error())
			return
		}
		jobsTotal.WithLabelValues("sync", "ok").Inc()
		jobDuration.WithLabelValues("sync").Observe(time.Since(start).Seconds())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Post("/stream", func(w http.ResponseWriter, r *http.Request) {
		if cfg.StreamHandler == nil {
			writeJSONError(w, http.StatusNotImplemented, "streaming handler not registered")
			return
		}
		job, ok := decodeJob(w, r)
		if !ok {
			return
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		var flush func()
		if f, ok := w.(http.Flusher); ok {
			flush = f.Flush
		}
		enc := json.NewEncoder(w)
		start := time.Now()
		emitted := 0
		err := cfg.StreamHandler(r.Context(), job, func(chunk types.StreamChunk) error {
			if err := enc.Encode(chunk); err != nil {
				return err
			}
			emitted++
			if flush != nil {
				flush()
			}
			return nil
		})
		if err != nil {
			jobsTotal.WithLabelValues("stream", "error").Inc()
			log.Error().Err(err).Str("job_id", job.ID).Int("chunks", emitted).
				Dur("dur", time.Since(start)).Msg("job failed")
			if r.Context().Err() != nil {
				return
			}
			if emitted == 0 {
				writeJSONError(w, errorStatus(err), err.Error())
			}
			// Chunks already on the wire cannot be unsent; the truncated
			// stream is the failure signal.
			return
		}
		jobsTotal.WithLabelValues("stream", "ok").Inc()
		jobDuration.WithLabelValues("stream").Observe(time.Since(start).Seconds())
	})

	if cfg.ConcurrencyController != nil {
		r.Get("/concurrency", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(types.ConcurrencyResponse{
				ScaleUp: cfg.ConcurrencyController(),
			})
		})
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(types.HealthResponse{Status: "ok"})
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

// runSync serves a non-streaming request: directly when a Handler is
// registered, otherwise by aggregating the stream handler when allowed.
func runSync(ctx context.Context, cfg Config, job types.Job) (*types.Response, error) {
	if cfg.Handler != nil {
		return cfg.Handler(ctx, job)
	}
	if cfg.StreamHandler == nil || !cfg.ReturnAggregateStream {
		return nil, notRegisteredError{}
	}
	// Intermediate states carry the current best completions, so the last
	// chunk is the aggregate.
	var last *types.StreamChunk
	err := cfg.StreamHandler(ctx, job, func(chunk types.StreamChunk) error {
		last = &chunk
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, emptyStreamError{}
	}
	return &types.Response{Outputs: last.Text, RunpodInternal: last.RunpodInternal}, nil
}

type notRegisteredError struct{}

func (notRegisteredError) Error() string   { return "no handler registered for this mode" }
func (notRegisteredError) StatusCode() int { return http.StatusNotImplemented }

type emptyStreamError struct{}

func (emptyStreamError) Error() string { return "stream produced no output to aggregate" }
