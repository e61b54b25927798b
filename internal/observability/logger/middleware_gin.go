package logger

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	obscontext "github.com/smallbiznis/creatorpay/internal/observability/context"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[redacted]"

// Webhook outcomes that answer 200 yet mean the delivery was not applied.
var failedWebhookStatuses = map[string]struct{}{
	"config_error": {},
	"error_logged": {},
}

// MiddlewareConfig controls request logging behavior.
type MiddlewareConfig struct {
	Debug           bool
	ErrorClassifier func(err error) (string, string)
	// RedactHeaders are logged with a masked value. Request bodies are never
	// logged, only their size.
	RedactHeaders []string
}

// GinMiddleware logs each request with correlation identifiers, the webhook
// outcome when the route set one, and the request headers minus secrets.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	redact := make(map[string]struct{}, len(cfg.RedactHeaders))
	for _, name := range cfg.RedactHeaders {
		if name = strings.TrimSpace(name); name != "" {
			redact[http.CanonicalHeaderKey(name)] = struct{}{}
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		requestID := ensureRequestID(c)

		ctx := c.Request.Context()
		ctx = obscontext.WithRequestID(ctx, requestID)
		ctx, _ = obscontext.EnsureCorrelationID(ctx)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if strings.TrimSpace(route) == "" {
			route = "unknown"
		}
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			zap.Int64("bytes_in", max(c.Request.ContentLength, 0)),
			zap.Int("bytes_out", max(c.Writer.Size(), 0)),
			zap.String("client_ip", c.ClientIP()),
			zap.Object("headers", requestHeaders{header: c.Request.Header, redact: redact}),
		}

		webhookStatus := strings.TrimSpace(c.GetString(obscontext.KeyWebhookStatus))
		if webhookStatus != "" {
			fields = append(fields, zap.String("webhook_status", webhookStatus))
		}
		if eventType := c.GetString(obscontext.KeyWebhookEventType); eventType != "" {
			fields = append(fields, zap.String("webhook_event_type", eventType))
		}
		if eventID := c.GetString(obscontext.KeyWebhookEventID); eventID != "" {
			fields = append(fields, zap.String("webhook_event_id", eventID))
		}

		var errorType, errorCode string
		if lastErr := c.Errors.Last(); lastErr != nil {
			if cfg.ErrorClassifier != nil {
				errorType, errorCode = cfg.ErrorClassifier(lastErr.Err)
			}
			fields = append(fields,
				zap.String("error_type", errorType),
				zap.String("error_code", errorCode),
			)
			if cfg.Debug {
				fields = append(fields, zap.Stack("stack"))
			}
		}

		log := FromContext(c.Request.Context())
		logRequest(log, requestLevel(route, status, errorType, webhookStatus), fields)
	}
}

func ensureRequestID(c *gin.Context) string {
	requestID := strings.TrimSpace(c.GetHeader("X-Request-Id"))
	if requestID == "" {
		requestID = strings.TrimSpace(c.GetString("request_id"))
	}
	if requestID == "" {
		requestID = uuid.NewString()
	}

	c.Set("request_id", requestID)
	c.Header("X-Request-Id", requestID)
	return requestID
}

func requestLevel(route string, status int, errorType, webhookStatus string) zapcore.Level {
	if _, failed := failedWebhookStatuses[webhookStatus]; failed {
		return zap.ErrorLevel
	}
	switch {
	case status >= http.StatusInternalServerError:
		return zap.ErrorLevel
	case strings.EqualFold(route, "/metrics"), strings.EqualFold(route, "/health"):
		return zap.DebugLevel
	case status == http.StatusTooManyRequests, errorType == "validation_error":
		return zap.DebugLevel
	case status >= http.StatusBadRequest:
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}

func logRequest(log *zap.Logger, level zapcore.Level, fields []zap.Field) {
	if log == nil {
		return
	}
	if ce := log.Check(level, "http_request"); ce != nil {
		ce.Write(fields...)
	}
}

// requestHeaders writes one field per header, masking redacted names.
type requestHeaders struct {
	header http.Header
	redact map[string]struct{}
}

func (h requestHeaders) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for name, values := range h.header {
		if _, ok := h.redact[http.CanonicalHeaderKey(name)]; ok {
			enc.AddString(name, redacted)
			continue
		}
		enc.AddString(name, strings.Join(values, ", "))
	}
	return nil
}
