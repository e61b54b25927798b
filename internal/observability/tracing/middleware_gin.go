package tracing

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creatorpay/internal/observability/context"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "creatorpay/http"

// GinMiddleware opens a server span per request. Webhook deliveries always
// answer 200, so the span status follows the webhook outcome tag rather than
// the HTTP code alone.
func GinMiddleware() gin.HandlerFunc {
	tracer := otel.Tracer(tracerName)
	return func(c *gin.Context) {
		ctx := ExtractContext(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracer.Start(ctx, "HTTP "+strings.ToUpper(c.Request.Method), trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()

		if requestID := obscontext.RequestIDFromContext(ctx); requestID != "" {
			if member, err := baggage.NewMember("request_id", requestID); err == nil {
				if bag, err := baggage.New(member); err == nil {
					ctx = baggage.ContextWithBaggage(ctx, bag)
				}
			}
			span.SetAttributes(attribute.String("request_id", requestID))
		}

		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unknown"
		}
		span.SetAttributes(SafeAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.client_ip", c.ClientIP()),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", c.Writer.Status()),
			attribute.Int64("http.server_duration_ms", time.Since(start).Milliseconds()),
		)...)

		eventType := c.GetString(obscontext.KeyWebhookEventType)
		webhookStatus := c.GetString(obscontext.KeyWebhookStatus)
		span.SetName(spanName(c.Request.Method, route, eventType))
		span.SetAttributes(webhookAttributes(eventType, c.GetString(obscontext.KeyWebhookEventID), webhookStatus)...)

		status := c.Writer.Status()
		switch {
		case status >= http.StatusInternalServerError:
			if lastErr := c.Errors.Last(); lastErr != nil {
				if safeErr := SafeError(lastErr.Err); safeErr != nil {
					span.RecordError(safeErr)
				}
			}
			span.SetStatus(codes.Error, "request error")
		case webhookFailed(webhookStatus):
			span.SetStatus(codes.Error, "webhook "+webhookStatus)
		}
	}
}

// spanName groups webhook spans by event type so dashboards split captures
// from subscription changes.
func spanName(method, route, eventType string) string {
	name := "HTTP " + strings.ToUpper(method) + " " + route
	if eventType != "" {
		name += " " + eventType
	}
	return name
}

func webhookAttributes(eventType, eventID, status string) []attribute.KeyValue {
	var attrs []attribute.KeyValue
	if eventType != "" {
		attrs = append(attrs, attribute.String("webhook.event_type", eventType))
	}
	if eventID != "" {
		attrs = append(attrs, attribute.String("webhook.event_id", eventID))
	}
	if status != "" {
		attrs = append(attrs, attribute.String("webhook.status", status))
	}
	return attrs
}

func webhookFailed(status string) bool {
	return status == "config_error" || status == "error_logged"
}
