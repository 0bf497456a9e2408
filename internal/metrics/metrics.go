// Package metrics holds the Prometheus collectors shared across the API
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "skyline"

var (
	// TradesBooked counts successful lab bookings by product type
	TradesBooked = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_booked_total",
			Help:      "Total lab trades booked",
		},
		[]string{"product"},
	)

	// BatchRuns counts finished EOD runs by outcome (completed, halted)
	BatchRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Total EOD batch runs by outcome",
		},
		[]string{"outcome"},
	)

	// LabSessionsActive tracks open lab sessions
	LabSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lab_sessions_active",
			Help:      "Current number of open lab sessions",
		},
	)

	// GatewayRequests counts AI gateway calls by operation and user-facing status
	GatewayRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gateway_requests_total",
			Help:      "Total AI gateway requests",
		},
		[]string{"operation", "status"},
	)

	// HTTPRequestDuration observes API latency
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	// MentorSessionsActive tracks live voice sessions
	MentorSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mentor_sessions_active",
			Help:      "Current number of live mentor audio sessions",
		},
	)
)

// Handler exposes the default registry for scraping
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}
