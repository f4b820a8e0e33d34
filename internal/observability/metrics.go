package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: All metrics are registered globally. The syncer binary therefore also
// exports the engine and API series with zero values, which is harmless.

// namespace defines the global prefix for all metrics (e.g., gatekeeper_...).
const namespace = "gatekeeper"

// lowLatencyBuckets covers in-process evaluation, which is expected to finish
// well under a millisecond for typical rulesets. Range: 100µs to 500ms.
var lowLatencyBuckets = []float64{.0001, .00025, .0005, .001, .002, .005, .010, .025, .050, .100, .500}

// Rule evaluation outcomes used as the "result" label.
const (
	ResultTrue    = "true"
	ResultFalse   = "false"
	ResultError   = "error"
	ResultUnknown = "unknown"
)

var (
	// -------------------------------------------------------------------------
	// API (HTTP)
	// -------------------------------------------------------------------------

	// APIReqDuration measures the latency of HTTP requests.
	// Metric: gatekeeper_api_http_handling_seconds
	APIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests",
		Buckets:   lowLatencyBuckets,
	}, []string{"method", "path"})

	// APIReqTotal counts the total number of HTTP requests.
	// Metric: gatekeeper_api_http_requests_total
	APIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests",
	}, []string{"method", "path", "code"})

	// -------------------------------------------------------------------------
	// POLICY ENGINE
	// -------------------------------------------------------------------------

	// EngineRuleEvaluations counts individual rule evaluations by outcome.
	// Metric: gatekeeper_engine_rule_evaluations_total
	EngineRuleEvaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rule_evaluations_total",
		Help:      "Total rule evaluations by result (true, false, error, unknown)",
	}, []string{"result"})

	// EngineComputeDuration measures a full ComputeRules call, including any
	// plan-switch member refetch.
	EngineComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "compute_duration_seconds",
		Help:      "Time taken to compute the flag map for one context",
		Buckets:   lowLatencyBuckets,
	})

	EnginePlanRefetch = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "plan_refetch_total",
		Help:      "Total plan-switch member refetches",
	}, []string{"status"}) // success, fail

	// EngineLoads counts engine constructions by the source that supplied the
	// ruleset. origin="empty" means every source failed.
	EngineLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "loads_total",
		Help:      "Total engine loads by ruleset origin",
	}, []string{"origin"})

	EngineRulesLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "rules_loaded",
		Help:      "Number of rules held by the most recently loaded engine",
	})

	// -------------------------------------------------------------------------
	// MEMBER CACHE (Otter)
	// -------------------------------------------------------------------------

	MemberCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "member_cache",
		Name:      "hits_total",
		Help:      "Total plan-scoped member lookups served from memory",
	})

	MemberCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "member_cache",
		Name:      "misses_total",
		Help:      "Total plan-scoped member lookups forwarded to the backend",
	})

	// MemberCacheUsage reports item count, not bytes: S3-FIFO (Otter) tracks
	// entries, not their size.
	MemberCacheUsage = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "member_cache",
		Name:      "entries",
		Help:      "Current number of items in the member cache",
	})

	// -------------------------------------------------------------------------
	// DATABASE (pgxpool)
	// -------------------------------------------------------------------------

	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "connections",
		Help:      "Current pool connections by state",
	}, []string{"state"}) // acquired, idle, total

	DBPoolMaxConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "db_pool",
		Name:      "max_connections",
		Help:      "Configured maximum pool size",
	})

	// -------------------------------------------------------------------------
	// SYNCER (Workers)
	// -------------------------------------------------------------------------

	// SyncerJobDuration measures one Postgres -> Redis synchronization pass.
	// Metric: gatekeeper_syncer_job_processing_duration_seconds
	SyncerJobDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "job_processing_duration_seconds",
		Help:      "Time taken by one ruleset synchronization pass",
		Buckets:   prometheus.DefBuckets,
	})

	SyncerJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "jobs_total",
		Help:      "Total synchronization passes",
	}, []string{"status"}) // published, unchanged, invalid, empty, fail
)
