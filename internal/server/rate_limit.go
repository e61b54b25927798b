package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/creatorpay/internal/observability/logger"
	"go.uber.org/zap"
)

const rateLimitReasonIPRate = "ip-rate"

// WebhookRateLimit throttles deliveries per client IP. Backend errors let the
// request through.
func (s *Server) WebhookRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.limiter.Allow(ctx, c.ClientIP())
		if err != nil {
			logger.FromContext(ctx).Warn("webhook rate limit check failed",
				zap.String("endpoint", endpoint),
				zap.Error(err),
			)
			c.Next()
			return
		}
		if !res.Allowed {
			logger.FromContext(ctx).Warn("webhook rate limit exceeded",
				zap.String("reason", rateLimitReasonIPRate),
				zap.String("endpoint", endpoint),
				zap.String("source_ip", c.ClientIP()),
			)
			s.obsMetrics.RecordRateLimitDenied(ctx, endpoint, rateLimitReasonIPRate)

			c.Header("Retry-After", retryAfterSeconds(res.RetryAfter.Seconds()))
			c.Header("X-Rate-Limited-Reason", rateLimitReasonIPRate)
			AbortWithError(c, ErrRateLimited)
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		c.Next()
	}
}

func retryAfterSeconds(seconds float64) string {
	if seconds < 1 {
		return "1"
	}
	return strconv.Itoa(int(math.Ceil(seconds)))
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
