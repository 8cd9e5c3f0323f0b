// Package metrics exposes the Prometheus instrumentation for the
// engine and query layer (component C9).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the module's counters, gauges and histogram. The engine
// updates OpsApplied, OpsRejected, BlockHeight and OutstandingPreorders;
// CacheHits, CacheMisses and QueryDuration are registered but nothing in
// this module updates them. A caller that does not want metrics can
// construct one with its own registry and never expose it on an HTTP
// handler.
type Metrics struct {
	OpsApplied         *prometheus.CounterVec
	OpsRejected        *prometheus.CounterVec
	CacheHits          *prometheus.CounterVec
	CacheMisses        *prometheus.CounterVec
	BlockHeight        prometheus.Gauge
	OutstandingPreorders prometheus.Gauge
	QueryDuration      *prometheus.HistogramVec
}

// New registers and returns a fresh Metrics set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OpsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "namedb_ops_applied_total",
			Help: "Number of naming operations successfully applied, by opcode.",
		}, []string{"opcode"}),
		OpsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "namedb_ops_rejected_total",
			Help: "Number of naming operations rejected, by reason.",
		}, []string{"reason"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "namedb_cache_hits_total",
			Help: "Query-layer cache hits, by operation.",
		}, []string{"op"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "namedb_cache_misses_total",
			Help: "Query-layer cache misses, by operation.",
		}, []string{"op"}),
		BlockHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "namedb_block_height",
			Help: "Highest block number committed into the state database.",
		}),
		OutstandingPreorders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "namedb_outstanding_preorders",
			Help: "Number of preorder commitments not yet consumed by a creation op.",
		}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "namedb_query_duration_seconds",
			Help: "Query layer latency, by operation.",
		}, []string{"op"}),
	}
	reg.MustRegister(m.OpsApplied, m.OpsRejected, m.CacheHits, m.CacheMisses,
		m.BlockHeight, m.OutstandingPreorders, m.QueryDuration)
	return m
}
