package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline run duration buckets in milliseconds. Runs are dominated by the
// upstream fetch, so the range skews long.
var durationBuckets = []float64{
	100, 250, 500, 1000, 2500, 5000,
	10000, 20000, 30000, 45000, 60000,
	90000, 120000, 180000, 300000,
}

// Set holds the business metrics recorded by the reconciliation pipeline.
type Set struct {
	RunsTotal       *prometheus.CounterVec
	RunDuration     *prometheus.HistogramVec
	MembersUpserted *prometheus.CounterVec
	BombsActivated  prometheus.Counter
	BombsDefused    prometheus.Counter
	FlaggedMembers  prometheus.Gauge
	ResetsDetected  prometheus.Counter
	LockContention  prometheus.Counter
}

func NewSet() *Set {
	return &Set{
		RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Reconciliation runs partitioned by trigger and outcome.",
		}, []string{"trigger", "outcome"}),
		RunDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Subsystem: "pipeline",
			Name:      "run_dur_ms",
			Help:      "Reconciliation run latency in milliseconds.",
			Buckets:   durationBuckets,
		}, []string{"trigger"}),
		MembersUpserted: promauto.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "quota",
			Name:      "members_upserted_total",
			Help:      "Ledger rows written, partitioned by new vs existing member.",
		}, []string{"kind"}),
		BombsActivated: promauto.NewCounter(prometheus.CounterOpts{
			Subsystem: "bomb",
			Name:      "activated_total",
			Help:      "Bombs activated.",
		}),
		BombsDefused: promauto.NewCounter(prometheus.CounterOpts{
			Subsystem: "bomb",
			Name:      "deactivated_total",
			Help:      "Bombs deactivated after recovery.",
		}),
		FlaggedMembers: promauto.NewGauge(prometheus.GaugeOpts{
			Subsystem: "bomb",
			Name:      "flagged_for_removal",
			Help:      "Members flagged for removal in the most recent pass.",
		}),
		ResetsDetected: promauto.NewCounter(prometheus.CounterOpts{
			Subsystem: "quota",
			Name:      "period_resets_total",
			Help:      "Period resets detected from snapshot drops.",
		}),
		LockContention: promauto.NewCounter(prometheus.CounterOpts{
			Subsystem: "pipeline",
			Name:      "lock_contention_total",
			Help:      "Runs skipped because the club lock was held.",
		}),
	}
}
