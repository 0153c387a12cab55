package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// erads_admission_decisions_total{reason}
	AdmissionDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erads",
			Name:      "admission_decisions_total",
			Help:      "Total admission decisions by reason code.",
		},
		[]string{"reason"},
	)

	ActiveBans = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "erads",
			Name:      "active_bans",
			Help:      "Current number of active bans.",
		},
	)

	ActiveApiKeys = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "erads",
			Name:      "active_api_keys",
			Help:      "Current number of active, non-expired API keys.",
		},
	)

	AutoBansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "erads",
			Name:      "auto_bans_total",
			Help:      "Total auto-bans fired by the abuse detector, labeled by rule.",
		},
		[]string{"rule"},
	)
)

func init() {
	prometheus.MustRegister(AdmissionDecisions, ActiveBans, ActiveApiKeys, AutoBansTotal)
}
