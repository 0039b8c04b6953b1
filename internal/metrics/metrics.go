package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	served = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movers",
		Name:      "served_total",
		Help:      "Responses served per dataset and X-Source.",
	}, []string{"dataset", "source"})

	refreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movers",
		Name:      "refresh_total",
		Help:      "Refresh runs per dataset, mode and result.",
	}, []string{"dataset", "mode", "result"})

	refreshDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "movers",
		Name:      "refresh_duration_seconds",
		Help:      "Wall time of refresh runs.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45, 90},
	}, []string{"dataset", "mode"})

	upstreamCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "movers",
		Name:      "upstream_requests_total",
		Help:      "Upstream HTTP calls per provider and outcome.",
	}, []string{"provider", "outcome"})
)

func ObserveServed(dataset, source string) {
	served.WithLabelValues(dataset, source).Inc()
}

func ObserveRefresh(dataset, mode, result string, took time.Duration) {
	refreshes.WithLabelValues(dataset, mode, result).Inc()
	refreshDuration.WithLabelValues(dataset, mode).Observe(took.Seconds())
}

func ObserveUpstream(provider, outcome string) {
	upstreamCalls.WithLabelValues(provider, outcome).Inc()
}
