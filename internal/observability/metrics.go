package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DispatchAttempts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "dispatch_attempts_total", Help: "Dispatch attempts started"})
	DispatchTimeouts   = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "dispatch_timeouts_total", Help: "Dispatch attempts that found no driver within the budget"})
	CandidaciesCreated = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "candidacies_created_total", Help: "Driver candidacies created"})
	SearchRounds       = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "search_rounds_total", Help: "Radius/tier search rounds executed"})
	OrdersAccepted     = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "orders_accepted_total", Help: "Orders accepted by a driver"})
	OrdersCompleted    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "orders_completed_total", Help: "Orders rated and completed"})
	LocationUpdates    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "location_updates_total", Help: "Driver location updates received over HTTP"})

	DispatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "taxi_dispatch",
		Name:      "dispatch_latency_seconds",
		Help:      "Time from dispatch start to first candidacy",
		Buckets:   prometheus.LinearBuckets(0.5, 0.5, 20),
	})

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
