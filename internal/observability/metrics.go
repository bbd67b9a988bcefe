// Package observability defines the service's Prometheus metrics. All
// collectors register on the default registry and are served by the
// /metrics handler.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PoolsDiscovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "pools_discovered_total",
		Help:      "New pools persisted from factory events.",
	}, []string{"chain_id"})

	ScanErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "scan_errors_total",
		Help:      "Detector scan failures by chain.",
	}, []string{"chain_id"})

	ScanCursor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "poolpilot",
		Name:      "scan_cursor_block",
		Help:      "Last fully scanned block per chain.",
	}, []string{"chain_id"})

	CyclesRun = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "scheduler_cycles_total",
		Help:      "Completed matching cycles.",
	})

	CyclesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "scheduler_cycles_skipped_total",
		Help:      "Cycles skipped because the previous one was still running.",
	})

	RuleMatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "rule_matches_total",
		Help:      "Rule/pool pairs that passed all gates.",
	})

	InvestmentsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "investments_completed_total",
		Help:      "Investments confirmed on chain.",
	})

	InvestmentsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "investments_failed_total",
		Help:      "Investments that ended FAILED.",
	})

	InvestmentsReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "poolpilot",
		Name:      "investments_reconciled_total",
		Help:      "Stale PROCESSING investments swept to FAILED.",
	})
)
