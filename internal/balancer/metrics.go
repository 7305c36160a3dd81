package balancer

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	pipelineRunsTotal    *prometheus.CounterVec
	policiesAppliedTotal *prometheus.CounterVec
	orderFactsTotal      *prometheus.CounterVec
	liveEscalationsTotal *prometheus.CounterVec
	retentionRowsTotal   prometheus.Counter
)

// InitMetrics registers the pipeline's Prometheus instruments. Call once
// from main before the first pipeline run.
func InitMetrics() {
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricebalancer",
			Name:      "pipeline_runs_total",
			Help:      "Total pipeline invocations.",
		},
		[]string{"mode", "trigger"},
	)
	policiesAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricebalancer",
			Name:      "policies_applied_total",
			Help:      "Policy log upserts, split by whether a new row was created.",
		},
		[]string{"mode", "created"},
	)
	orderFactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricebalancer",
			Name:      "order_facts_total",
			Help:      "Order facts inserted (first write only).",
		},
		[]string{"mode"},
	)
	liveEscalationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pricebalancer",
			Name:      "live_escalations_total",
			Help:      "LIVE threshold escalations triggered by the daily order limit.",
		},
		[]string{"supplier"},
	)
	retentionRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pricebalancer",
			Name:      "retention_rows_deleted_total",
			Help:      "Rows removed by TTL cleanup.",
		},
	)
	prometheus.MustRegister(
		pipelineRunsTotal,
		policiesAppliedTotal,
		orderFactsTotal,
		liveEscalationsTotal,
		retentionRowsTotal,
	)
}

// The counters stay nil in tests that exercise the pipeline without metrics;
// the helpers below make instrumentation a no-op in that case.

func countRun(mode, trigger string) {
	if pipelineRunsTotal != nil {
		pipelineRunsTotal.WithLabelValues(mode, trigger).Inc()
	}
}

func countApplied(mode string, created bool) {
	if policiesAppliedTotal != nil {
		label := "refreshed"
		if created {
			label = "new"
		}
		policiesAppliedTotal.WithLabelValues(mode, label).Inc()
	}
}

func countFacts(mode string, n int) {
	if orderFactsTotal != nil && n > 0 {
		orderFactsTotal.WithLabelValues(mode).Add(float64(n))
	}
}

func countEscalation(supplier string) {
	if liveEscalationsTotal != nil {
		liveEscalationsTotal.WithLabelValues(supplier).Inc()
	}
}

func countRetention(n int64) {
	if retentionRowsTotal != nil && n > 0 {
		retentionRowsTotal.Add(float64(n))
	}
}
