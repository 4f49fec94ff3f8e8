// Package metrics exposes Prometheus instrumentation for indexd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// BlocksAccepted counts blocks accepted into the journal.
	BlocksAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexd_blocks_accepted_total",
			Help: "Total number of blocks accepted",
		},
	)

	// BlocksRejected counts rejected block submissions by reason.
	BlocksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexd_blocks_rejected_total",
			Help: "Total number of rejected block submissions",
		},
		[]string{"reason"},
	)

	// ChainHeight shows the current chain height.
	ChainHeight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexd_chain_height",
			Help: "Current chain height",
		},
	)

	// UTXOCount shows the number of unspent outputs.
	UTXOCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "indexd_utxo_count",
			Help: "Number of unspent transaction outputs",
		},
	)

	// Rollbacks counts successful rollback operations.
	Rollbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "indexd_rollbacks_total",
			Help: "Total number of successful rollbacks",
		},
	)

	// HTTPRequests counts HTTP requests by route and status code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexd_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(BlocksAccepted)
	prometheus.MustRegister(BlocksRejected)
	prometheus.MustRegister(ChainHeight)
	prometheus.MustRegister(UTXOCount)
	prometheus.MustRegister(Rollbacks)
	prometheus.MustRegister(HTTPRequests)
}
