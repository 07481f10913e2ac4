package remote

import "github.com/prometheus/client_golang/prometheus"

var (
	verificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nozier_verifications_total",
			Help: "Request verifications, by outcome.",
		},
		[]string{"outcome"},
	)
	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nozier_commands_total",
			Help: "Command responses, by command and HTTP status.",
		},
		[]string{"command", "status"},
	)
)

func init() {
	prometheus.MustRegister(verificationsTotal)
	prometheus.MustRegister(commandsTotal)
}
