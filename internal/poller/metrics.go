package poller

import "github.com/prometheus/client_golang/prometheus"

// Poll outcome label values.
const (
	outcomeProgress  = "progress"
	outcomeComplete  = "complete"
	outcomeFailed    = "failed"
	outcomeError     = "error"
	outcomeDiscarded = "discarded"
)

// Generation reset reasons.
const (
	reasonAttach = "attach"
	reasonRetry  = "retry"
	reasonDetach = "detach"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportwatch_poller_polls_total",
			Help: "Total number of settled status polls by report kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	pollDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reportwatch_poller_poll_duration_seconds",
			Help:    "Duration of a single status transport call, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	activeCycles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "reportwatch_poller_active_cycles",
			Help: "Number of polling cycles currently scheduled.",
		},
		[]string{"kind"},
	)

	generationResets = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reportwatch_poller_generation_resets_total",
			Help: "Total number of generation bumps by reason.",
		},
		[]string{"kind", "reason"},
	)
)

func init() {
	prometheus.MustRegister(pollsTotal)
	prometheus.MustRegister(pollDuration)
	prometheus.MustRegister(activeCycles)
	prometheus.MustRegister(generationResets)
}
