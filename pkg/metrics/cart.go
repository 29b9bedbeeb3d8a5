package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CartMetrics records cart mutation outcomes and catalog lookup latency.
// A zero value or nil receiver is a no-op.
type CartMetrics struct {
	mutations *prometheus.CounterVec
	conflicts *prometheus.CounterVec
	lookups   *prometheus.HistogramVec
}

// NewCartMetrics registers the cart metrics on the provided registerer.
func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	if reg == nil {
		return &CartMetrics{}
	}
	mutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutations_total",
		Help: "Cart mutations by operation and terminal outcome.",
	}, []string{"operation", "outcome"})
	conflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_version_conflicts_total",
		Help: "Versioned cart writes rejected because another writer committed first.",
	}, []string{"operation"})
	lookups := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cart_price_lookup_duration_seconds",
		Help:    "Latency of catalog price lookups.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(mutations, conflicts, lookups)
	return &CartMetrics{
		mutations: mutations,
		conflicts: conflicts,
		lookups:   lookups,
	}
}

// ObserveMutation counts one finished mutation.
func (m *CartMetrics) ObserveMutation(operation, outcome string) {
	if m == nil || m.mutations == nil {
		return
	}
	m.mutations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// ObserveConflict counts one lost version race.
func (m *CartMetrics) ObserveConflict(operation string) {
	if m == nil || m.conflicts == nil {
		return
	}
	m.conflicts.WithLabelValues(normalizeLabel(operation)).Inc()
}

// ObserveLookup records how long a single price lookup took.
func (m *CartMetrics) ObserveLookup(outcome string, elapsed time.Duration) {
	if m == nil || m.lookups == nil {
		return
	}
	m.lookups.WithLabelValues(normalizeLabel(outcome)).Observe(elapsed.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
