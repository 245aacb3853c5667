// Package metrics exposes engine counters for Prometheus scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's instrumentation. Each instance carries its
// own registry, so parallel tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	BacktestsTotal    prometheus.Counter
	BacktestDuration  prometheus.Histogram
	DrawsTotal        *prometheus.CounterVec
	OptimizationRuns  prometheus.Counter
	OrdersSubmitted   prometheus.Counter
	OrdersByStatus    *prometheus.CounterVec
	SessionSignals    *prometheus.CounterVec
	ActiveWorkerPools prometheus.Gauge
}

// New creates a Metrics with a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		BacktestsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "backtests_total",
			Help:      "Completed backtest runs",
		}),
		BacktestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "engine",
			Name:      "backtest_duration_seconds",
			Help:      "Wall time per backtest run",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		DrawsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "optimization_draws_total",
			Help:      "Optimization draws by outcome",
		}, []string{"outcome"}),
		OptimizationRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "optimization_runs_total",
			Help:      "Completed optimization batches",
		}),
		OrdersSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "orders_submitted_total",
			Help:      "Orders accepted by the broker gateway",
		}),
		OrdersByStatus: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "order_status_transitions_total",
			Help:      "Order status transitions by resulting status",
		}, []string{"status"}),
		SessionSignals: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "engine",
			Name:      "session_signals_total",
			Help:      "Live strategy signals by direction",
		}, []string{"signal"}),
		ActiveWorkerPools: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "engine",
			Name:      "active_worker_pools",
			Help:      "Worker pools currently running",
		}),
	}
}

// Handler returns the scrape endpoint handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
