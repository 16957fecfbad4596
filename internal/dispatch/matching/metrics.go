package matching

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	matchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_matches_total",
		Help: "Total requests paired with a provider.",
	})

	rejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_rejections_total",
		Help: "Total requests consumed without a match, grouped by reason.",
	}, []string{"reason"})

	matchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_match_distance",
		Help:    "Distance between request and matched provider.",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	lockWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_pool_lock_wait_seconds",
		Help:    "Time spent waiting for the provider pool lock.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_queue_depth",
		Help: "Requests waiting for a dispatcher worker.",
	})

	providersAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dispatch_providers_available",
		Help: "Providers currently in the pool.",
	})
)
