package metrics

import "github.com/prometheus/client_golang/prometheus"

// Key constants are exported primarily for documentation reasons. Typically,
// they will not be used programmatically outside of defining the collectors.

// Keys for jsonbdoc store metrics.
const (
	StatementsTotalKey          = "jsonbdoc_statements_total"
	StatementDurationSecondsKey = "jsonbdoc_statement_duration_seconds"
	DocumentsWrittenTotalKey    = "jsonbdoc_documents_written_total"
	SessionsTotalKey            = "jsonbdoc_sessions_total"
	StatementCacheEvictionsKey  = "jsonbdoc_statement_cache_evictions_total"

	Fail = "fail"
	Ok   = "ok"

	// Outcomes of a finished session.
	Committed  = "committed"
	RolledBack = "rolled_back"
)

// Collectors for jsonbdoc store metrics.
var (
	StatementsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: StatementsTotalKey,
		Help: "Cumulative number of executed statements.",
	}, []string{"dialect", "operation", "status"})
	StatementDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: StatementDurationSecondsKey,
		Help: "Duration of statement execution, including row fetch.",
	}, []string{"dialect", "operation"})
	DocumentsWrittenTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: DocumentsWrittenTotalKey,
		Help: "Cumulative number of documents inserted, replaced, or deleted.",
	}, []string{"dialect", "operation"})
	SessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: SessionsTotalKey,
		Help: "Cumulative number of finished session transactions.",
	}, []string{"dialect", "outcome"})
	StatementCacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: StatementCacheEvictionsKey,
		Help: "Cumulative number of prepared statements evicted from session caches.",
	})
)

// StoreCollectors lists collectors used by the jsonbdoc store.
func StoreCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		StatementsTotal,
		StatementDurationSeconds,
		DocumentsWrittenTotal,
		SessionsTotal,
		StatementCacheEvictionsTotal,
	}
}
