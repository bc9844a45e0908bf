// Package serverless is the worker's job-serving host surface. A handler
// (and optionally a concurrency-controller predicate for the platform's
// autoscaler) is registered through Config and served over the worker
// protocol. In production the platform dispatches jobs through its own
// transport; this package serves the same protocol over HTTP for local runs
// and platform-side polling.
package serverless

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/RedHitMark/worker-vllm/pkg/types"
)

// Handler processes one job and returns the final response.
type Handler func(ctx context.Context, job types.Job) (*types.Response, error)

// StreamHandler processes one job, emitting a chunk per intermediate engine
// state. Returning an error fails the job; chunks already emitted stand.
type StreamHandler func(ctx context.Context, job types.Job, emit func(types.StreamChunk) error) error

// ConcurrencyController is polled by the platform's autoscaler.
type ConcurrencyController func() bool

// Config registers the worker's entry points with the host.
type Config struct {
	// Handler serves non-streaming jobs. Optional when StreamHandler is set
	// together with ReturnAggregateStream.
	Handler Handler
	// StreamHandler serves streaming jobs.
	StreamHandler StreamHandler
	// ConcurrencyController, when set, is exposed for autoscaler polling.
	ConcurrencyController ConcurrencyController
	// ReturnAggregateStream additionally serves non-streaming requests from
	// StreamHandler by draining it and answering with the last chunk.
	ReturnAggregateStream bool

	// Addr is the HTTP listen address, e.g. :8080.
	Addr   string
	Logger zerolog.Logger
}

// Start serves the worker protocol until ctx is canceled. It returns nil on
// graceful shutdown.
func Start(ctx context.Context, cfg Config) error {
	mux := NewMux(cfg)
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		cfg.Logger.Info().Str("addr", cfg.Addr).Msg("worker listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			cfg.Logger.Warn().Err(err).Msg("graceful shutdown error")
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		return err
	}
}
