package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ClassificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erads",
			Name:      "reputation_classifications_total",
			Help:      "Total reputation classifications, labeled by resolved type and source layer.",
		},
		[]string{"type", "source"},
	)

	ReputationCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "erads",
			Name:      "reputation_cache_hits_total",
			Help:      "Total classifications served from cache without re-running the pipeline.",
		},
	)

	ProviderCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erads",
			Name:      "reputation_provider_calls_total",
			Help:      "Total external provider calls, labeled by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	TorExitCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "erads",
			Name:      "tor_exit_count",
			Help:      "Current number of known Tor exit addresses.",
		},
	)

	registerOnce sync.Once
)

// RegisterReputationMetrics registers all reputation metrics once.
func RegisterReputationMetrics(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(ClassificationsTotal)
		reg.MustRegister(ReputationCacheHits)
		reg.MustRegister(ProviderCallsTotal)
		reg.MustRegister(TorExitCount)
	})
}
