package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/creatorpay/internal/observability/context"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	webhookdomain "github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"go.uber.org/zap"
)

const (
	headerRazorpaySignature = "X-Razorpay-Signature"
	headerRazorpayEventID   = "X-Razorpay-Event-Id"

	maxWebhookBodyBytes = 1 << 20
)

// HandleRazorpayWebhook answers 200 with a status tag for every outcome so the
// gateway never retries on our account.
func (s *Server) HandleRazorpayWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBodyBytes))
	if err != nil {
		obslogger.WithContext(ctx, s.log).Error("webhook body read failed",
			zap.String("source_ip", c.ClientIP()),
			zap.Error(err),
		)
		s.respond(c, webhookdomain.StatusErrorLogged)
		return
	}

	result := s.webhooks.Handle(ctx, webhookdomain.Request{
		Body:          body,
		Signature:     strings.TrimSpace(c.GetHeader(headerRazorpaySignature)),
		EventIDHeader: strings.TrimSpace(c.GetHeader(headerRazorpayEventID)),
		SourceIP:      c.ClientIP(),
	})

	if result.EventType != "" {
		c.Set(obscontext.KeyWebhookEventType, result.EventType)
	}
	if result.EventID != "" {
		c.Set(obscontext.KeyWebhookEventID, result.EventID)
	}

	status := result.Status
	if status == "" {
		status = webhookdomain.StatusErrorLogged
	}
	s.respond(c, status)
}

func (s *Server) respond(c *gin.Context, status webhookdomain.Status) {
	c.Set(obscontext.KeyWebhookStatus, string(status))
	c.JSON(http.StatusOK, gin.H{"status": status})
}
