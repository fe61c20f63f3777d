package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the identity registry.
type Metrics struct {
	Promotions     *prometheus.CounterVec
	Demotions      prometheus.Counter
	CascadeResets  prometheus.Counter
	ChallengesOpen prometheus.Gauge
}

// New creates a Metrics instance with all registry metrics registered.
func New() *Metrics {
	return &Metrics{
		Promotions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "knomee_identity_promotions_total",
			Help: "Tier promotions by resulting tier",
		}, []string{"tier"}),
		Demotions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "knomee_identity_demotions_total",
			Help: "Tier demotions (cascade targets excluded)",
		}),
		CascadeResets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "knomee_identity_cascade_resets_total",
			Help: "Linked identities reset by anchor demotions",
		}),
		ChallengesOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "knomee_identity_challenges_open",
			Help: "Identities currently under duplicate challenge",
		}),
	}
}

// IncrementPromotion records a promotion into tier.
func (m *Metrics) IncrementPromotion(tier string) {
	m.Promotions.WithLabelValues(tier).Inc()
}
