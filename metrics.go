package voidring

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var upsertCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "writer",
	Name:      "upserts",
	Help:      "Number of record upserts",
}, []string{"collection"})

var deleteCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "writer",
	Name:      "deletes",
	Help:      "Number of record deletes",
}, []string{"collection"})

var indexEntryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "writer",
	Name:      "index_entries",
	Help:      "Number of index entries written or removed",
}, []string{"collection", "field", "op"})

var warningCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "writer",
	Name:      "warnings",
	Help:      "Number of records left out of an index by resolution or type problems",
}, []string{"collection", "field", "kind"})

var queryCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "query",
	Name:      "queries",
	Help:      "Number of index queries started",
}, []string{"collection", "field", "form"})

var danglingCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "query",
	Name:      "dangling_entries",
	Help:      "Number of index entries skipped because the record is gone",
}, []string{"collection", "field"})

var malformedCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "query",
	Name:      "malformed_entries",
	Help:      "Number of index entries skipped because the key does not parse",
}, []string{"collection", "field"})

var recordCacheCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "query",
	Name:      "record_cache",
	Help:      "Record cache hits and misses",
}, []string{"result"})

var rebuildCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "rebuild",
	Name:      "rebuilds",
	Help:      "Number of index rebuild runs",
}, []string{"collection"})

var rebuildResults = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "rebuild",
	Name:      "rebuild_results",
	Help:      "Per-index outcomes of rebuild runs",
}, []string{"collection", "field", "result"})

var rebuildDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "voidring",
	Subsystem: "rebuild",
	Name:      "rebuild_duration_seconds",
	Help:      "Wall time of index rebuild runs",
	Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500},
}, []string{"collection"})

var verifyViolations = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voidring",
	Subsystem: "verify",
	Name:      "violations",
	Help:      "Index consistency violations found by verification runs",
}, []string{"collection", "kind"})

// Collectors returns every metric this package maintains, for callers
// that manage their own registry.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		upsertCount,
		deleteCount,
		indexEntryCount,
		warningCount,
		queryCount,
		danglingCount,
		malformedCount,
		recordCacheCount,
		rebuildCount,
		rebuildResults,
		rebuildDuration,
		verifyViolations,
	}
}

// registerMetrics tolerates repeat registration so several databases can
// share one registerer.
func registerMetrics(reg prometheus.Registerer, cs ...prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			are := prometheus.AlreadyRegisteredError{}
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
