package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RedHitMark/worker-vllm/internal/sampling"
)

// The engine server refreshes its internal metrics mapping every few seconds;
// polling faster than that only re-reads the same numbers.
const defaultRefreshInterval = 5 * time.Second

// ClientOptions configures a Client.
type ClientOptions struct {
	// BaseURL of the running engine's API server, e.g. http://localhost:8000.
	BaseURL string
	// Model path forwarded with each request so the engine can verify it is
	// serving the expected weights.
	Model string
	// RefreshInterval between stats polls. Zero selects the default.
	RefreshInterval time.Duration
	// ConnectTimeout for dialing the engine. Zero selects 5s.
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// Client talks to an engine API server over HTTP. Generation requests stream
// intermediate states as NDJSON; scheduler stats and the metrics mapping are
// polled in the background and served from a local snapshot so callers get a
// non-blocking read.
type Client struct {
	baseURL    string
	model      string
	httpClient *http.Client
	refresh    time.Duration
	log        zerolog.Logger

	mu      sync.RWMutex
	stats   SchedulerStats
	metrics map[string]any
}

// NewClient constructs a Client. Call Run to start the stats refresher.
func NewClient(opts ClientOptions) *Client {
	connect := opts.ConnectTimeout
	if connect <= 0 {
		connect = 5 * time.Second
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connect,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}
	// Client.Timeout stays 0: generation streams are open-ended and carry
	// their deadlines on the request context.
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = defaultRefreshInterval
	}
	return &Client{
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		model:      opts.Model,
		httpClient: &http.Client{Transport: tr, Timeout: 0},
		refresh:    refresh,
		log:        opts.Logger,
		metrics:    map[string]any{},
	}
}

// generateRequest is the payload for POST /generate.
type generateRequest struct {
	Prompt         string          `json:"prompt"`
	Model          string          `json:"model,omitempty"`
	SamplingParams sampling.Params `json:"sampling_params"`
	RequestID      string          `json:"request_id"`
	Stream         bool            `json:"stream"`
}

// Generate submits one request and relays the engine's NDJSON stream onto a
// channel, one Result per intermediate state. Emission cadence is the
// engine's; the channel is unbuffered so no coalescing happens here.
func (c *Client) Generate(ctx context.Context, prompt string, params sampling.Params, requestID string) (<-chan Result, error) {
	payload := generateRequest{
		Prompt:         prompt,
		Model:          c.model,
		SamplingParams: params,
		RequestID:      requestID,
		Stream:         true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, errors.New("engine http error: " + resp.Status + ": " + string(b))
	}

	ch := make(chan Result)
	go c.relay(ctx, resp.Body, requestID, ch)
	return ch, nil
}

// relay reads NDJSON intermediate states from the engine until EOF or error.
func (c *Client) relay(ctx context.Context, body io.ReadCloser, requestID string, ch chan<- Result) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	r := bufio.NewReader(body)
	for {
		line, err := r.ReadString('\n')
		if s := strings.TrimSpace(line); s != "" {
			var out RequestOutput
			if uerr := json.Unmarshal([]byte(s), &out); uerr != nil {
				c.deliver(ctx, ch, Result{Err: uerr})
				return
			}
			if out.RequestID == "" {
				out.RequestID = requestID
			}
			if !c.deliver(ctx, ch, Result{Output: out}) {
				return
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			if ctx.Err() != nil {
				c.deliver(ctx, ch, Result{Err: ctx.Err()})
				return
			}
			c.log.Warn().Err(err).Str("request_id", requestID).Msg("engine stream read error")
			c.deliver(ctx, ch, Result{Err: err})
			return
		}
	}
}

func (c *Client) deliver(ctx context.Context, ch chan<- Result, res Result) bool {
	select {
	case ch <- res:
		return true
	case <-ctx.Done():
		return false
	}
}

// statsResponse is the payload of GET /stats on the engine server.
type statsResponse struct {
	Scheduler SchedulerStats `json:"scheduler"`
	Metrics   map[string]any `json:"metrics"`
}

// Run polls the engine's stats endpoint until ctx is canceled, keeping the
// local snapshot fresh for SchedulerStats and Metrics.
func (c *Client) Run(ctx context.Context) {
	ticker := time.NewTicker(c.refresh)
	defer ticker.Stop()
	c.pollStats(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.pollStats(ctx)
		}
	}
}

func (c *Client) pollStats(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.refresh)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stats", nil)
	if err != nil {
		return
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Msg("engine stats poll failed")
		return
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		c.log.Warn().Str("status", resp.Status).Msg("engine stats poll failed")
		return
	}
	var sr statsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sr); err != nil {
		c.log.Warn().Err(err).Msg("engine stats decode failed")
		return
	}
	c.mu.Lock()
	c.stats = sr.Scheduler
	if sr.Metrics != nil {
		c.metrics = sr.Metrics
	}
	c.mu.Unlock()
}

// SchedulerStats returns the last polled queue depths.
func (c *Client) SchedulerStats() SchedulerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Metrics returns a shallow copy of the last polled metrics mapping. Callers
// may attach extra keys to the copy freely.
func (c *Client) Metrics() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metrics))
	for k, v := range c.metrics {
		out[k] = v
	}
	return out
}
