package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK     = "ok"
	resultFailed = "failed"
)

var (
	// Messages tracks control messages by type and result
	Messages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_control_messages_total",
			Help: "Total number of control messages handled",
		},
		[]string{"message", "result"},
	)

	// Prefetched tracks resources downloaded by prefetch-all
	Prefetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shellcache_prefetched_resources_total",
			Help: "Total number of resources stored by offline prefetch",
		},
	)
)
