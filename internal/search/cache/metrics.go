package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_cache_requests_total",
		Help: "Cache lookups grouped by hit, miss or expired.",
	}, []string{"result"})

	computesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "search_cache_computes_total",
		Help: "Producer invocations grouped by outcome.",
	}, []string{"result"})

	computeSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "search_cache_compute_seconds",
		Help:    "Time spent in the producer function.",
		Buckets: prometheus.DefBuckets,
	})

	evictionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "search_cache_evictions_total",
		Help: "Expired entries removed by the sweeper.",
	})

	entriesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "search_cache_entries",
		Help: "Entries currently stored, expired ones included.",
	})
)
