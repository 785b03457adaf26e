package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the settlement engine.
type Metrics struct {
	// --- Core processing ---
	CoreEventsApplied  *prometheus.CounterVec
	CoreEventsRejected *prometheus.CounterVec
	CoreEventDuration  *prometheus.HistogramVec
	CoreSequence       prometheus.Gauge

	// --- Sales ---
	InsuranceHired *prometheus.CounterVec
	PremiumVolume  *prometheus.CounterVec
	SecuredTotal   *prometheus.GaugeVec

	// --- Upkeep & oracle ---
	UpkeepChecks     prometheus.Counter
	UpkeepDispatched *prometheus.CounterVec
	OracleErrors     *prometheus.CounterVec
	OracleLatency    prometheus.Histogram

	// --- Settlement & bridge ---
	SettlementsCompleted *prometheus.CounterVec
	PayoutVolume         *prometheus.CounterVec
	BridgeDispatches     *prometheus.CounterVec
	BridgeFailures       *prometheus.CounterVec

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge

	// --- HTTP API ---
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025, 0.05, 0.1,
	}

	return &Metrics{
		CoreEventsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_core_events_applied_total",
			Help: "Events successfully applied by core",
		}, []string{"event_type"}),

		CoreEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_core_events_rejected_total",
			Help: "Events rejected (dedup, validation)",
		}, []string{"event_type", "reason"}),

		CoreEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shield_core_event_apply_duration_seconds",
			Help:    "Time to apply a single event in core",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		CoreSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shield_core_sequence",
			Help: "Current global sequence number",
		}),

		InsuranceHired: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_insurance_hired_total",
			Help: "Completed insurance purchases",
		}, []string{"policy"}),

		PremiumVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_premium_volume",
			Help: "Premiums collected (settlement-token units)",
		}, []string{"policy"}),

		SecuredTotal: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "shield_secured_total",
			Help: "Outstanding secured amount per policy",
		}, []string{"policy"}),

		UpkeepChecks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_upkeep_checks_total",
			Help: "Keeper upkeep polls",
		}),

		UpkeepDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_upkeep_dispatched_total",
			Help: "Oracle requests dispatched by performUpkeep",
		}, []string{"policy"}),

		OracleErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_oracle_errors_total",
			Help: "Oracle-reported errors (settlement reopened)",
		}, []string{"policy"}),

		OracleLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shield_oracle_roundtrip_seconds",
			Help:    "performUpkeep dispatch to callback completion",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),

		SettlementsCompleted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_settlements_completed_total",
			Help: "Policies settled",
		}, []string{"policy", "outcome"}),

		PayoutVolume: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_payout_volume",
			Help: "Payouts journaled (settlement-token units)",
		}, []string{"policy"}),

		BridgeDispatches: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_bridge_dispatches_total",
			Help: "Cross-chain payments handed to the bridge",
		}, []string{"policy"}),

		BridgeFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_bridge_failures_total",
			Help: "Bridge dispatch failures after settlement",
		}, []string{"policy"}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_idempotency_duplicates_total",
			Help: "Duplicates caught (lru/postgres)",
		}, []string{"event_type", "tier"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shield_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shield_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "shield_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: latencyBuckets,
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "shield_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		APIRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shield_api_requests_total",
			Help: "HTTP API requests",
		}, []string{"endpoint", "status"}),

		APIDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shield_api_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: latencyBuckets,
		}, []string{"endpoint"}),
	}
}
