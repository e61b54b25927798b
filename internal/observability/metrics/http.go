package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics records request latency for the public surface.
type HTTPMetrics struct {
	requests *prometheus.HistogramVec
}

func NewHTTPMetrics(cfg Config) *HTTPMetrics {
	return newHTTPMetrics(prometheus.DefaultRegisterer, cfg)
}

func newHTTPMetrics(registerer prometheus.Registerer, cfg Config) *HTTPMetrics {
	requests := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "creatorpay_http_request_duration_seconds",
		Help:        "HTTP request latency by route and status.",
		Buckets:     prometheus.DefBuckets,
		ConstLabels: constLabelsFor(cfg),
	}, []string{"method", "route", "status_code"})
	registerer.MustRegister(requests)
	return &HTTPMetrics{requests: requests}
}

// GinMiddleware observes every request once the handler chain finishes.
func GinMiddleware(m *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if m == nil {
			return
		}
		route := strings.TrimSpace(c.FullPath())
		if route == "" {
			route = "unknown"
		}
		m.requests.WithLabelValues(
			c.Request.Method,
			route,
			strconv.Itoa(c.Writer.Status()),
		).Observe(time.Since(start).Seconds())
	}
}

// WebhookMetrics tracks the processing pass independently of HTTP timing.
type WebhookMetrics struct {
	duration *prometheus.HistogramVec
	outcomes *prometheus.CounterVec
}

func NewWebhookMetrics(cfg Config) *WebhookMetrics {
	return newWebhookMetrics(prometheus.DefaultRegisterer, cfg)
}

// NewWebhookMetricsForTest builds webhook metrics against a private registry.
func NewWebhookMetricsForTest(registerer prometheus.Registerer) *WebhookMetrics {
	return newWebhookMetrics(registerer, Config{ServiceName: "creatorpay", Environment: "test"})
}

func newWebhookMetrics(registerer prometheus.Registerer, cfg Config) *WebhookMetrics {
	labels := constLabelsFor(cfg)
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "creatorpay_webhook_processing_seconds",
		Help:        "Time spent in one webhook processing pass.",
		Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: labels,
	}, []string{"event_type"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "creatorpay_webhook_outcomes_total",
		Help:        "Webhook responses by status tag.",
		ConstLabels: labels,
	}, []string{"status"})
	registerer.MustRegister(duration, outcomes)
	return &WebhookMetrics{duration: duration, outcomes: outcomes}
}

func (m *WebhookMetrics) Observe(eventType, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		eventType = "unknown"
	}
	m.duration.WithLabelValues(eventType).Observe(elapsed.Seconds())
	m.outcomes.WithLabelValues(status).Inc()
}
