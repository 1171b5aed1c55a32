package lifecycle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK     = "ok"
	resultFailed = "failed"
)

var (
	// InstallTotal tracks install transitions by result
	InstallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_install_total",
			Help: "Total number of install transitions",
		},
		[]string{"result"},
	)

	// ActivationTotal tracks activate transitions by mode and result
	ActivationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_activation_total",
			Help: "Total number of activate transitions",
		},
		[]string{"mode", "result"},
	)

	// StaleDeleted tracks content entries removed by manifest reconciliation
	StaleDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shellcache_stale_entries_deleted_total",
			Help: "Total number of stale content entries deleted during activation",
		},
	)

	// TeardownTotal tracks fail-safe teardowns of all managed caches
	TeardownTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shellcache_teardown_total",
			Help: "Total number of managed cache teardowns after failed activations",
		},
	)
)
