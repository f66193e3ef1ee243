package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Commitments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_order_commitments_total",
			Help: "Order commitments by result code",
		},
		[]string{"result"},
	)

	Reconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payment_reconciliations_total",
			Help: "Payment provider events by outcome",
		},
		[]string{"outcome"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_order_status_transitions_total",
			Help: "Applied order status transitions by target status and actor role",
		},
		[]string{"to", "role"},
	)

	TxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_transaction_retries_total",
			Help: "Transaction attempts retried after a transient conflict",
		},
	)

	NotificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "storefront_notifications_dropped_total",
			Help: "Notifications that could not be queued or sent",
		},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// HTTP records request latency per matched route.
func HTTP() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		httpRequestDuration.
			WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
