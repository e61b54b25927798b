package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"github.com/smallbiznis/creatorpay/internal/config"
	obscontext "github.com/smallbiznis/creatorpay/internal/observability/context"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"github.com/smallbiznis/creatorpay/internal/observability/tracing"
	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"github.com/smallbiznis/creatorpay/internal/webhook/router"
	"github.com/smallbiznis/creatorpay/internal/webhook/signature"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const maxErrorLength = 1024

type Params struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	GenID          *snowflake.Node
	Clock          clock.Clock
	Cfg            config.Config
	Repo           domain.Repository
	Router         *router.Router
	Secrets        signature.SecretSource
	ObsMetrics     *obsmetrics.Metrics        `optional:"true"`
	WebhookMetrics *obsmetrics.WebhookMetrics `optional:"true"`
}

// Service is the webhook processor: verify, dedupe, route, mark.
type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	genID          *snowflake.Node
	clock          clock.Clock
	repo           domain.Repository
	router         *router.Router
	secrets        signature.SecretSource
	obsMetrics     *obsmetrics.Metrics
	webhookMetrics *obsmetrics.WebhookMetrics
	tracer         trace.Tracer

	sweepAfter  time.Duration
	maxAttempts int
}

func NewService(p Params) *Service {
	sweepAfter := time.Duration(p.Cfg.Webhook.PendingSweepAfterSeconds) * time.Second
	if sweepAfter <= 0 {
		sweepAfter = 15 * time.Minute
	}
	maxAttempts := p.Cfg.Webhook.MaxReplayAttempts
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}

	return &Service{
		db:             p.DB,
		log:            p.Log.Named("webhook.processor"),
		genID:          p.GenID,
		clock:          clk,
		repo:           p.Repo,
		router:         p.Router,
		secrets:        p.Secrets,
		obsMetrics:     p.ObsMetrics,
		webhookMetrics: p.WebhookMetrics,
		tracer:         otel.Tracer("creatorpay/webhook"),
		sweepAfter:     sweepAfter,
		maxAttempts:    maxAttempts,
	}
}

// Handle runs one delivery end to end. It never returns an error: every
// outcome, including internal failures, is folded into Result.Status.
func (s *Service) Handle(ctx context.Context, req domain.Request) (result domain.Result) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			result = domain.Result{
				Status:    domain.StatusErrorLogged,
				EventID:   result.EventID,
				EventType: result.EventType,
				Err:       fmt.Errorf("panic: %v", r),
			}
			s.logger(ctx).Error("webhook processing panicked",
				zap.String("event_id", result.EventID),
				zap.Any("panic", r),
			)
		}
		s.obsMetrics.RecordWebhookEvent(ctx, result.EventType, string(result.Status))
		s.webhookMetrics.Observe(result.EventType, string(result.Status), time.Since(start))
	}()

	return s.handle(ctx, req)
}

func (s *Service) handle(ctx context.Context, req domain.Request) domain.Result {
	log := s.logger(ctx)

	secret, err := s.secrets.Resolve(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrSecretNotConfigured) {
			log.Error("webhook secret not configured", zap.String("severity", "critical"))
			return domain.Result{Status: domain.StatusConfigError, Err: err}
		}
		log.Error("resolve webhook secret", zap.Error(err))
		return domain.Result{Status: domain.StatusErrorLogged, Err: err}
	}

	if err := signature.Verify(req.Body, req.Signature, secret); err != nil {
		log.Warn("webhook signature rejected",
			zap.String("source_ip", req.SourceIP),
			zap.String("reason", err.Error()),
		)
		return domain.Result{Status: domain.StatusIgnored, Err: err}
	}

	payloadHash := domain.PayloadHash(req.Body)
	env, err := domain.DecodeEnvelope(req.Body)
	if err != nil {
		log.Error("decode webhook payload", zap.String("payload_hash", payloadHash), zap.Error(err))
		return domain.Result{Status: domain.StatusErrorLogged, Err: err}
	}

	eventID := env.ResolveEventID(req.EventIDHeader)
	result := domain.Result{EventID: eventID, EventType: env.Event}
	if eventID == "" {
		log.Error("webhook event has no id", zap.String("event_type", env.Event), zap.String("payload_hash", payloadHash))
		result.Status = domain.StatusErrorLogged
		result.Err = domain.ErrMissingEventID
		return result
	}

	ctx = obscontext.WithEventID(ctx, eventID)
	log = s.logger(ctx)

	if eventType, known := domain.ParseEventType(env.Event); known {
		if err := env.Validate(eventType); err != nil {
			log.Error("webhook payload missing entity",
				zap.String("event_type", env.Event),
				zap.String("payload_hash", payloadHash),
				zap.Error(err),
			)
			result.Status = domain.StatusErrorLogged
			result.Err = err
			return result
		}
	}

	seen, err := s.repo.HasProcessed(ctx, s.db, eventID)
	if err != nil {
		log.Error("check webhook ledger", zap.Error(err))
		result.Status = domain.StatusErrorLogged
		result.Err = err
		return result
	}
	if seen {
		log.Info("webhook already processed", zap.String("event_type", env.Event))
		result.Status = domain.StatusAlreadyProcessed
		return result
	}

	now := s.clock.Now()
	entry := &domain.WebhookEvent{
		ID:          s.genID.Generate(),
		EventID:     eventID,
		Platform:    domain.PlatformRazorpay,
		EventType:   env.Event,
		PayloadHash: payloadHash,
		Payload:     datatypes.JSON(req.Body),
		ReceivedAt:  now,
		UpdatedAt:   now,
	}
	if err := s.repo.RecordPending(ctx, s.db, entry); err != nil {
		if errors.Is(err, domain.ErrEventAlreadyProcessed) {
			log.Info("webhook already being handled", zap.String("event_type", env.Event))
			result.Status = domain.StatusAlreadyProcessed
			return result
		}
		log.Error("record webhook ledger entry", zap.Error(err))
		result.Status = domain.StatusErrorLogged
		result.Err = err
		return result
	}

	if err := s.runPass(ctx, entry, env); err != nil {
		s.fail(ctx, entry, err)
		result.Status = domain.StatusErrorLogged
		result.Err = err
		return result
	}

	result.Status = domain.StatusOK
	return result
}

// runPass routes a recorded event to its handler and marks the ledger row
// processed once the handler's effects are committed.
func (s *Service) runPass(ctx context.Context, entry *domain.WebhookEvent, env *domain.Envelope) (err error) {
	ctx, span := s.tracer.Start(ctx, "webhook.process", trace.WithAttributes(
		attribute.String("webhook.event_type", entry.EventType),
		attribute.Int("webhook.attempt", entry.Attempts),
	))
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
		if err != nil {
			span.RecordError(tracing.SafeError(err))
			span.SetStatus(codes.Error, "webhook processing failed")
		}
		span.End()
	}()

	eventType, known := domain.ParseEventType(entry.EventType)
	handler, ok := s.router.Lookup(eventType)
	if !known || !ok {
		s.logger(ctx).Debug("webhook event type not handled", zap.String("event_type", entry.EventType))
	} else if err := handler(ctx, eventType, env); err != nil {
		return err
	}

	return s.repo.MarkProcessed(ctx, s.db, entry.EventID, s.clock.Now())
}

func (s *Service) fail(ctx context.Context, entry *domain.WebhookEvent, cause error) {
	log := s.logger(ctx)
	log.Error("webhook processing failed",
		zap.String("event_id", entry.EventID),
		zap.String("event_type", entry.EventType),
		zap.String("payload_hash", entry.PayloadHash),
		zap.Int("attempt", entry.Attempts),
		zap.Error(cause),
	)

	reason := cause.Error()
	if len(reason) > maxErrorLength {
		reason = reason[:maxErrorLength]
	}
	if err := s.repo.MarkFailed(ctx, s.db, entry.EventID, reason, s.clock.Now()); err != nil {
		log.Error("mark webhook failed", zap.Error(err))
	}
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
