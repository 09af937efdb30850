// Package metrics provides Prometheus instrumentation for the orchestrator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActiveWorkers tracks bound worker processes, pending starts included.
	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aitrader_active_workers",
		Help: "Number of simulation workers bound to the manager",
	})

	// WorkerStarts counts start attempts by outcome.
	WorkerStarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrader_worker_starts_total",
		Help: "Worker start attempts",
	}, []string{"outcome"})

	// WorkerExits counts worker exits by how they ended.
	WorkerExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrader_worker_exits_total",
		Help: "Worker process exits",
	}, []string{"reason"})

	// WorkerEvents counts protocol events received from workers.
	WorkerEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrader_worker_events_total",
		Help: "Events received from workers",
	}, []string{"type"})

	// Trades counts opened and closed lots reported by workers.
	Trades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrader_trades_total",
		Help: "Trades reported by workers",
	}, []string{"action", "side"})

	// StreamClients tracks connected websocket clients.
	StreamClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "aitrader_stream_clients",
		Help: "Number of connected event stream clients",
	})

	// Notifications counts notification delivery outcomes.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrader_notifications_total",
		Help: "Notification delivery outcomes",
	}, []string{"type", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "aitrader_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "aitrader_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 15.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics keyed by the gin route pattern.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
