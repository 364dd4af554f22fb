package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_core"

var (
	// Registry holds the chat core collectors.
	Registry = prometheus.NewRegistry()

	messagesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "created_total",
			Help:      "Messages persisted, by origin (ws or http) and whether the client token matched an existing message.",
		},
		[]string{"origin", "replayed"},
	)

	receiptTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receipts",
			Name:      "transitions_total",
			Help:      "Receipt state transitions applied.",
		},
		[]string{"state"},
	)

	receiptFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "receipts",
			Name:      "failures_total",
			Help:      "Receipt writes that failed and were swallowed.",
		},
		[]string{"operation"},
	)

	broadcastFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "failures_total",
			Help:      "Group publishes that failed and were queued for retry.",
		},
	)

	broadcastRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "broadcast",
			Name:      "retries_total",
			Help:      "Outbox retry attempts by result.",
		},
		[]string{"result"},
	)

	liveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "connections",
			Help:      "WebSocket connections currently subscribed on this process.",
		},
	)

	inboundEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "inbound_events_total",
			Help:      "Inbound WebSocket frames by event type.",
		},
		[]string{"type"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		messagesCreated,
		receiptTransitions,
		receiptFailures,
		broadcastFailures,
		broadcastRetries,
		liveConnections,
		inboundEvents,
		httpRequests,
		httpDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler exposes the registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// GinMiddleware records request counts and durations by route template.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func MessageCreated(origin string, replayed bool) {
	messagesCreated.WithLabelValues(origin, strconv.FormatBool(replayed)).Inc()
}

func ReceiptTransition(state string, n int) {
	receiptTransitions.WithLabelValues(state).Add(float64(n))
}

func ReceiptFailure(operation string) {
	receiptFailures.WithLabelValues(operation).Inc()
}

func BroadcastFailure() {
	broadcastFailures.Inc()
}

func BroadcastRetry(result string) {
	broadcastRetries.WithLabelValues(result).Inc()
}

func ConnectionOpened() { liveConnections.Inc() }

func ConnectionClosed() { liveConnections.Dec() }

func InboundEvent(eventType string) {
	inboundEvents.WithLabelValues(eventType).Inc()
}
