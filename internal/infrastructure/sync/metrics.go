package sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "brickfolio",
		Subsystem: "sync",
		Name:      "dispatch_total",
		Help:      "Outbox dispatch outcomes by provider.",
	}, []string{"provider", "outcome"})

	dispatchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "brickfolio",
		Subsystem: "sync",
		Name:      "dispatch_duration_seconds",
		Help:      "Duration of one provider dispatch including the network call.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	readyBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "brickfolio",
		Subsystem: "sync",
		Name:      "ready_backlog",
		Help:      "Pending messages due for dispatch seen by the last pass.",
	})
)
