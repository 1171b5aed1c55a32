package network

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK           = "ok"
	resultNotOK        = "not_ok"
	resultNetworkError = "network_error"
	resultStoreError   = "store_error"
)

var (
	// FetchTotal tracks upstream fetches by method and result
	FetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_upstream_fetch_total",
			Help: "Total number of upstream fetches",
		},
		[]string{"method", "result"},
	)

	// FetchDuration tracks upstream fetch latency
	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "shellcache_upstream_fetch_duration_seconds",
			Help:    "Upstream fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// BatchTotal tracks all-or-nothing batch downloads by result
	BatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_batch_fetch_total",
			Help: "Total number of batch downloads",
		},
		[]string{"result"},
	)
)

func observeFetch(method, result string, started time.Time) {
	FetchTotal.WithLabelValues(method, result).Inc()
	FetchDuration.WithLabelValues(method).Observe(time.Since(started).Seconds())
}
