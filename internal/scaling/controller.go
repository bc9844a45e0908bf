// Package scaling holds the concurrency-control predicate polled by the
// platform's autoscaler.
package scaling

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/RedHitMark/worker-vllm/internal/engine"
)

// DefaultPendingThreshold is the pending-sequence count above which the
// worker asks the platform for more capacity.
const DefaultPendingThreshold = 30

var pendingSequences = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "worker",
	Subsystem: "engine",
	Name:      "pending_sequences",
	Help:      "Waiting plus swapped sequences in the engine scheduler at last poll",
})

func init() {
	prometheus.MustRegister(pendingSequences)
}

// StatsSource is the slice of the engine surface the controller needs.
type StatsSource interface {
	SchedulerStats() engine.SchedulerStats
}

// Controller answers "should the platform add capacity?" from a snapshot of
// the engine scheduler's queue depths. It keeps no state between calls: no
// hysteresis, no smoothing. The autoscaler picks the polling cadence.
type Controller struct {
	src       StatsSource
	threshold int
	log       zerolog.Logger
}

// New builds a Controller. A threshold <= 0 selects the default.
func New(src StatsSource, threshold int, log zerolog.Logger) *Controller {
	if threshold <= 0 {
		threshold = DefaultPendingThreshold
	}
	return &Controller{src: src, threshold: threshold, log: log}
}

// Pending returns the current waiting+swapped count.
func (c *Controller) Pending() int {
	st := c.src.SchedulerStats()
	return st.Waiting + st.Swapped
}

// ShouldScale reports whether the pending count exceeds the threshold.
func (c *Controller) ShouldScale() bool {
	pending := c.Pending()
	pendingSequences.Set(float64(pending))
	c.log.Debug().Int("pending_sequences", pending).Int("threshold", c.threshold).
		Msg("engine pending queue sampled")
	return pending > c.threshold
}
