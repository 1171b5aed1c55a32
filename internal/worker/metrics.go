package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	deploySkipped          = "skipped"
	deployWaiting          = "waiting"
	deployActivated        = "activated"
	deployLoadFailed       = "load_failed"
	deployInstallFailed    = "install_failed"
	deployActivationFailed = "activation_failed"
)

var (
	// DeploymentsTotal tracks deployment requests by outcome
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shellcache_deployments_total",
			Help: "Total number of deployments processed by the supervisor",
		},
		[]string{"outcome"},
	)

	// ActiveManifestSize reports the number of resources managed by the controlling generation
	ActiveManifestSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "shellcache_active_manifest_resources",
			Help: "Number of manifest resources managed by the controlling generation",
		},
	)
)
