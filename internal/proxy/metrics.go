package proxy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeHit      = "hit"
	outcomeMiss     = "miss"
	outcomeNetwork  = "network"
	outcomeFallback = "fallback"
	outcomeError    = "error"
)

var (
	// RouterRequests tracks routed requests by strategy and outcome
	RouterRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_router_requests_total",
			Help: "Total number of requests handled by the request router",
		},
		[]string{"strategy", "outcome"},
	)
)
