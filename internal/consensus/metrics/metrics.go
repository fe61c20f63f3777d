package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the consensus engine.
type Metrics struct {
	ClaimsCreated *prometheus.CounterVec
	Resolutions   *prometheus.CounterVec
	VouchesCast   prometheus.Counter
	StakeEscrowed prometheus.Counter
	StakeSlashed  prometheus.Counter
	StakeBurned   prometheus.Counter
	ActiveClaims  prometheus.Gauge
}

// New creates a Metrics instance with all engine metrics registered.
func New() *Metrics {
	return &Metrics{
		ClaimsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "knomee_consensus_claims_created_total",
			Help: "Claims opened, by claim type",
		}, []string{"type"}),
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "knomee_consensus_resolutions_total",
			Help: "Claims resolved, by terminal status",
		}, []string{"status"}),
		VouchesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "knomee_consensus_vouches_cast_total",
			Help: "Vouches accepted onto active claims",
		}),
		StakeEscrowed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "knomee_consensus_stake_escrowed_total",
			Help: "Stake units moved into claim escrow",
		}),
		StakeSlashed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "knomee_consensus_stake_slashed_total",
			Help: "Stake units slashed from losing vouchers",
		}),
		StakeBurned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "knomee_consensus_stake_burned_total",
			Help: "Rounding dust burned at resolution",
		}),
		ActiveClaims: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "knomee_consensus_claims_active",
			Help: "Claims currently open for vouching",
		}),
	}
}

// IncrementClaim records a newly opened claim of the given type.
func (m *Metrics) IncrementClaim(claimType string) {
	m.ClaimsCreated.WithLabelValues(claimType).Inc()
	m.ActiveClaims.Inc()
}

// IncrementResolution records a claim reaching the given terminal status.
func (m *Metrics) IncrementResolution(status string) {
	m.Resolutions.WithLabelValues(status).Inc()
	m.ActiveClaims.Dec()
}
