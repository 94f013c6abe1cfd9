// Package obs exposes the process metrics shared across services.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Result cache hits by entry kind.",
	}, []string{"kind"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Result cache misses by entry kind.",
	}, []string{"kind"})

	ComputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dispatchboard",
		Subsystem: "metric",
		Name:      "compute_duration_seconds",
		Help:      "Wall time spent computing one dashboard or chart batch.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	AlertsGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "alerting",
		Name:      "generated_total",
		Help:      "Alerts created by the rule engine.",
	})

	AlertsResolved = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "alerting",
		Name:      "resolved_total",
		Help:      "Alerts auto-resolved because their condition cleared.",
	})

	AlertsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "dispatchboard",
		Subsystem: "alerting",
		Name:      "expired_total",
		Help:      "Alerts resolved by the time-based expiry fallback.",
	})
)
