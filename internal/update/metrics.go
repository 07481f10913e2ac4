package update

import "github.com/prometheus/client_golang/prometheus"

const (
	resultSucceeded = "succeeded"
	resultFailed    = "failed"
)

var (
	targetsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nozier_update_targets_total",
			Help: "Update targets attempted, by kind and result.",
		},
		[]string{"kind", "result"},
	)
	targetDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nozier_update_target_duration_seconds",
			Help:    "Time spent upgrading one target.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)
	coreUpgradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nozier_core_upgrades_total",
			Help: "Core upgrade attempts, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(targetsTotal)
	prometheus.MustRegister(targetDuration)
	prometheus.MustRegister(coreUpgradesTotal)
}
