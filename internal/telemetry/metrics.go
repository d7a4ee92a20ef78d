// Package telemetry provides application-level observability for the governance service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<FRG_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text exposition
// format and is intended to be scraped every 15–60 seconds. It is NOT served by
// the Gin router, so it never competes with API traffic for handler time.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /v1/rules/:id) rather
// than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as rule and version UUIDs.
package telemetry

import (
	"database/sql"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Compilation metrics — recorded wherever a ruleset version is compiled:
// the explicit compile endpoints and the approval transaction.
//
// RulesetCompilesTotal is a CounterVec with label {result} ("success" or
// "error"). Compilation is deterministic, so a nonzero error rate means bad
// authoring input (unapproved members, invalid trees), not flakiness.
//
// Example PromQL queries:
//   - Compile failure ratio:  sum(rate(ruleset_compiles_total{result="error"}[1h])) / sum(rate(ruleset_compiles_total[1h]))
var (
	RulesetCompilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleset_compiles_total",
			Help: "Total number of ruleset compilation attempts, by result.",
		},
		[]string{"result"},
	)

	RulesetCompileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ruleset_compile_duration_seconds",
			Help:    "Duration of a single ruleset compilation, including catalog and membership loads.",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// Publication metrics.
//
// RulesetPublishesTotal is a CounterVec with labels {environment, rule_type}
// incremented once per successfully published ruleset version (manifest row
// committed and pointer written).
//
// PointerWriteFailuresTotal counts pointer writes that failed after the
// manifest row committed. Any nonzero rate here means evaluators are reading
// a stale pointer until a re-publish repairs it, so alert on
// increase(pointer_write_failures_total[15m]) > 0.
var (
	RulesetPublishesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ruleset_publishes_total",
			Help: "Total number of ruleset versions published, by environment and rule type.",
		},
		[]string{"environment", "rule_type"},
	)

	PointerWriteFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pointer_write_failures_total",
			Help: "Total number of pointer writes that failed after the manifest row committed.",
		},
	)
)

// ApprovalActionsTotal is a CounterVec with labels {entity_type, action}
// incremented once per committed workflow transition (SUBMIT, APPROVE,
// REJECT, ACTIVATE).
//
// Example PromQL queries:
//   - Approval throughput:  sum by (action) (rate(approval_actions_total[1d]))
var ApprovalActionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "approval_actions_total",
		Help: "Total number of committed approval workflow transitions, by entity type and action.",
	},
	[]string{"entity_type", "action"},
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool. It is sampled every 30 seconds
// by StartDBStatsCollector rather than per-request.
//
// Example PromQL queries:
//   - Pool utilisation (%): db_open_connections / <FRG_DATABASE_MAX_CONNECTIONS> * 100
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples sql.DB
// connection pool statistics every 30 seconds and updates the DBOpenConnections
// gauge. The goroutine exits cleanly when the database becomes unreachable
// (db.Ping fails), which happens when the application shuts down and defers
// db.Close().
//
// Call this once, immediately after the database connection succeeds in main.go.
func StartDBStatsCollector(db *sql.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
