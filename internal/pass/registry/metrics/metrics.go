package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the pass registry.
type Metrics struct {
	PassesIssued      prometheus.Counter
	EntryScans        *prometheus.CounterVec
	ExitScans         *prometheus.CounterVec
	Extensions        prometheus.Counter
	PenaltiesAssessed prometheus.Counter
	PenaltyAmount     prometheus.Counter
	SweepExpired      prometheus.Counter
}

// New creates all registry metrics against the given registerer. Production
// passes prometheus.DefaultRegisterer; tests pass a fresh registry so
// parallel suites do not collide.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PassesIssued: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_passes_issued_total",
			Help: "Total passes issued",
		}),
		EntryScans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_entry_scans_total",
			Help: "Entry scans by result",
		}, []string{"result"}),
		ExitScans: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "gatepass_exit_scans_total",
			Help: "Exit scans by result",
		}, []string{"result"}),
		Extensions: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_extensions_total",
			Help: "Total granted deadline extensions",
		}),
		PenaltiesAssessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_penalties_assessed_total",
			Help: "Total penalties assessed",
		}),
		PenaltyAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_penalty_amount_total",
			Help: "Cumulative penalty amount assessed",
		}),
		SweepExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "gatepass_sweep_expired_total",
			Help: "Passes expired by the periodic sweep",
		}),
	}
}
