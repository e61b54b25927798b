package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	automationdomain "github.com/smallbiznis/creatorpay/internal/automation/domain"
	"github.com/smallbiznis/creatorpay/internal/clock"
	entitlementdomain "github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	invoicedomain "github.com/smallbiznis/creatorpay/internal/invoice/domain"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	subscriptiondomain "github.com/smallbiznis/creatorpay/internal/subscription/domain"
	webhookdomain "github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxVersionAttempts = 3

type ServiceParam struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Repo         subscriptiondomain.Repository
	Entitlements entitlementdomain.Resolver
	Recorder     invoicedomain.Recorder
	Dunning      automationdomain.DunningEnqueuer
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	repo         subscriptiondomain.Repository
	entitlements entitlementdomain.Resolver
	recorder     invoicedomain.Recorder
	dunning      automationdomain.DunningEnqueuer
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		clock:        p.Clock,
		repo:         p.Repo,
		entitlements: p.Entitlements,
		recorder:     p.Recorder,
		dunning:      p.Dunning,
	}
}

// Routes registers the service for every subscription event.
func Routes(s *Service) []webhookdomain.Route {
	events := []webhookdomain.EventType{
		webhookdomain.EventSubscriptionActivated,
		webhookdomain.EventSubscriptionCharged,
		webhookdomain.EventSubscriptionCancelled,
		webhookdomain.EventSubscriptionExpired,
		webhookdomain.EventSubscriptionCompleted,
		webhookdomain.EventSubscriptionPaused,
		webhookdomain.EventSubscriptionPending,
		webhookdomain.EventSubscriptionHalted,
	}
	routes := make([]webhookdomain.Route, 0, len(events))
	for _, event := range events {
		routes = append(routes, webhookdomain.Route{Type: event, Handler: s.HandleEvent})
	}
	return routes
}

// HandleEvent applies one subscription event. A lost version race re-reads
// and re-decides from the fresh row.
func (s *Service) HandleEvent(ctx context.Context, eventType webhookdomain.EventType, env *webhookdomain.Envelope) error {
	if env == nil || env.Payload.Subscription == nil {
		return webhookdomain.ErrInvalidPayload
	}

	for attempt := 1; attempt <= maxVersionAttempts; attempt++ {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.apply(ctx, tx, eventType, env)
		})
		if !errors.Is(err, subscriptiondomain.ErrVersionConflict) {
			return err
		}
		s.logger(ctx).Info("subscription version conflict, retrying",
			zap.String("external_subscription_id", env.Payload.Subscription.Entity.ID),
			zap.Int("attempt", attempt),
		)
	}
	return fmt.Errorf("%w: gave up after %d attempts", subscriptiondomain.ErrVersionConflict, maxVersionAttempts)
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, eventType webhookdomain.EventType, env *webhookdomain.Envelope) error {
	entity := env.Payload.Subscription.Entity
	log := s.logger(ctx).With(
		zap.String("event_type", eventType.String()),
		zap.String("external_subscription_id", entity.ID),
	)

	current, err := s.repo.FindByExternalID(ctx, tx, entity.ID)
	if err != nil {
		return err
	}
	if current == nil {
		log.Debug("subscription not found, ignoring event")
		return nil
	}

	user, err := s.entitlements.FindUser(ctx, tx, current.UserID)
	if err != nil {
		return err
	}
	hasLimits := false
	if user != nil {
		_, hasLimits = user.Limits()
	}

	now := s.clock.Now()
	decision := subscriptiondomain.Decide(*current, buildInput(eventType, env, hasLimits), now)
	if decision.Skip {
		log.Debug("event does not apply to current status", zap.String("status", string(current.Status)))
		return nil
	}

	if decision.RecordCharge {
		created, err := s.recordCharge(ctx, tx, current, env, now)
		if err != nil {
			return err
		}
		if !created {
			log.Info("charge already recorded, skipping")
			return nil
		}
	}

	next := decision.Next
	ok, err := s.repo.UpdateVersioned(ctx, tx, &next, current.Version)
	if err != nil {
		return err
	}
	if !ok {
		return subscriptiondomain.ErrVersionConflict
	}

	if err := s.applyEntitlement(ctx, tx, decision, &next, eventType); err != nil {
		return err
	}

	if decision.EnqueueDunning {
		reason := ""
		if next.LastFailureReason != nil {
			reason = *next.LastFailureReason
		}
		if err := s.dunning.EnqueueDunning(ctx, tx, automationdomain.DunningNotice{
			SubscriptionID: next.ID,
			UserID:         next.UserID,
			Reason:         reason,
			FailureCount:   next.FailureCount,
		}); err != nil {
			return err
		}
	}

	log.Info("subscription updated",
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
		zap.String("entitlement", string(decision.Entitlement)),
		zap.Int64("version", next.Version),
	)
	return nil
}

func (s *Service) recordCharge(ctx context.Context, tx *gorm.DB, sub *subscriptiondomain.Subscription, env *webhookdomain.Envelope, now time.Time) (bool, error) {
	if env.Payload.Payment == nil {
		return false, webhookdomain.ErrInvalidPayload
	}
	payment := env.Payload.Payment.Entity
	_, created, err := s.recorder.RecordCharge(ctx, tx, invoicedomain.ChargeInput{
		UserID:            sub.UserID,
		SubscriptionID:    sub.ID,
		ExternalPaymentID: payment.ID,
		Amount:            payment.Amount,
		Currency:          payment.Currency,
		ChargedAt:         now,
	})
	return created, err
}

func (s *Service) applyEntitlement(ctx context.Context, tx *gorm.DB, decision subscriptiondomain.Decision, next *subscriptiondomain.Subscription, eventType webhookdomain.EventType) error {
	target := entitlementdomain.Target{
		UserID:         next.UserID,
		SubscriptionID: next.ID,
		PlanID:         next.PlanID,
		Status:         string(next.Status),
		EndAt:          next.EndDate,
		TrimProducts:   decision.TrimProducts,
	}
	if next.Status == subscriptiondomain.StatusTrialing && next.TrialEndsAt != nil {
		target.EndAt = next.TrialEndsAt
	}
	reason := eventType.String()

	switch decision.Entitlement {
	case subscriptiondomain.EntitlementRefresh:
		if err := s.entitlements.Refresh(ctx, tx, target, reason); err != nil {
			return err
		}
	case subscriptiondomain.EntitlementDowngrade:
		if err := s.entitlements.Downgrade(ctx, tx, target, reason); err != nil {
			return err
		}
	case subscriptiondomain.EntitlementStatusOnly:
		if err := s.entitlements.SyncStatus(ctx, tx, target); err != nil {
			return err
		}
	}

	if decision.TrialConversion {
		return s.entitlements.MarkTrialUsed(ctx, tx, next.UserID)
	}
	return nil
}

func buildInput(eventType webhookdomain.EventType, env *webhookdomain.Envelope, hasLimits bool) subscriptiondomain.Input {
	entity := env.Payload.Subscription.Entity
	in := subscriptiondomain.Input{
		Event:           eventType,
		StartAt:         webhookdomain.UnixTime(entity.StartAt),
		EndAt:           webhookdomain.UnixTime(entity.CurrentEnd),
		HasCachedLimits: hasLimits,
	}
	if in.EndAt == nil {
		in.EndAt = webhookdomain.UnixTime(entity.EndAt)
	}
	if env.Payload.Payment != nil {
		payment := env.Payload.Payment.Entity
		in.PaymentID = strings.TrimSpace(payment.ID)
		in.FailureReason = strings.TrimSpace(payment.ErrorDescription)
	}
	return in
}

// ExpireTrials settles users whose trial window has passed. A user whose
// subscription converted keeps their tier; everyone else is downgraded.
// A failing user is logged and skipped; the failures come back joined.
func (s *Service) ExpireTrials(ctx context.Context, users []entitlementdomain.User) (int, error) {
	settled := 0
	var errs []error
	for _, user := range users {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.expireTrial(ctx, tx, user)
		})
		if err != nil {
			s.logger(ctx).Error("trial expiry failed", zap.String("user_id", user.ID.String()), zap.Error(err))
			errs = append(errs, fmt.Errorf("user %s: %w", user.ID, err))
			continue
		}
		settled++
	}
	return settled, errors.Join(errs...)
}

func (s *Service) expireTrial(ctx context.Context, tx *gorm.DB, user entitlementdomain.User) error {
	var sub *subscriptiondomain.Subscription
	if user.ActiveSubscriptionID != nil {
		found, err := s.repo.FindByID(ctx, tx, *user.ActiveSubscriptionID)
		if err != nil {
			return err
		}
		sub = found
	}

	target := entitlementdomain.Target{UserID: user.ID, Status: string(subscriptiondomain.StatusActive)}
	if sub != nil {
		target.SubscriptionID = sub.ID
		target.PlanID = sub.PlanID
		target.EndAt = sub.EndDate
	}
	if sub != nil && sub.Status == subscriptiondomain.StatusActive {
		return s.entitlements.SyncStatus(ctx, tx, target)
	}

	target.Status = string(subscriptiondomain.StatusExpired)
	if sub != nil && sub.Status != subscriptiondomain.StatusTrialing {
		target.Status = string(sub.Status)
	}
	s.logger(ctx).Info("trial expired without conversion, downgrading", zap.String("user_id", user.ID.String()))
	return s.entitlements.Downgrade(ctx, tx, target, "trial_expired")
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
