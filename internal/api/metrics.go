package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// serverMetrics are the Prometheus collectors exposed on /metrics.
type serverMetrics struct {
	requestsTotal      *prometheus.CounterVec
	backtestDuration   prometheus.Histogram
	simulationDuration prometheus.Histogram
	jobsActive         prometheus.Gauge
	wsClients          prometheus.Gauge
}

func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)
	return &serverMetrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "crashsim",
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"route", "status"}),
		backtestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crashsim",
			Name:      "backtest_duration_seconds",
			Help:      "Wall time of backtest runs.",
			Buckets:   prometheus.DefBuckets,
		}),
		simulationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "crashsim",
			Name:      "montecarlo_duration_seconds",
			Help:      "Wall time of Monte Carlo runs.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		jobsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "crashsim",
			Name:      "jobs_active",
			Help:      "Currently running simulation jobs.",
		}),
		wsClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "crashsim",
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients.",
		}),
	}
}
