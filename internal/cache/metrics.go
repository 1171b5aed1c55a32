package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 缓存后端标签值。
const (
	BackendDisk   = "disk"
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

var (
	// StoreErrors tracks failed store operations by backend and operation
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_store_errors_total",
			Help: "Total number of named cache store operation errors",
		},
		[]string{"backend", "operation"},
	)

	// CachesDeleted tracks whole named caches removed (cold start, teardown)
	CachesDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_caches_deleted_total",
			Help: "Total number of named caches deleted",
		},
		[]string{"cache"},
	)
)
