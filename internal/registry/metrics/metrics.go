package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the registry module.
type Metrics struct {
	// Mutation outcomes by operation
	Mutations *prometheus.CounterVec

	// Proof verification latency per mutating call
	ProofLatency prometheus.Histogram

	// Request-id replays served from the idempotency store
	Replays prometheus.Counter
}

// New creates a new Metrics instance with all registry metrics registered.
func New() *Metrics {
	return &Metrics{
		Mutations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "medvault_registry_mutations_total",
			Help: "Total mutation outcomes by operation",
		}, []string{"op", "outcome"}), // outcome: "committed", "noop", "rejected", "replayed"

		ProofLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "medvault_registry_proof_verification_duration_seconds",
			Help:    "Duration of proof verification across all fields of a mutating call",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),

		Replays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "medvault_registry_idempotent_replays_total",
			Help: "Total mutating calls answered from the idempotency store",
		}),
	}
}

// IncrementMutation records a mutation outcome.
func (m *Metrics) IncrementMutation(op, outcome string) {
	if m != nil {
		m.Mutations.WithLabelValues(op, outcome).Inc()
	}
}

// ObserveProofLatency records the duration of a proof verification pass.
func (m *Metrics) ObserveProofLatency(d time.Duration) {
	if m != nil {
		m.ProofLatency.Observe(d.Seconds())
	}
}

// IncrementReplay records an idempotent replay.
func (m *Metrics) IncrementReplay() {
	if m != nil {
		m.Replays.Inc()
	}
}
