package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	automationdomain "github.com/smallbiznis/creatorpay/internal/automation/domain"
	"github.com/smallbiznis/creatorpay/internal/clock"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	webhookdomain "github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const revokeReasonRefund = "refund"

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       orderdomain.Repository
	Dispatcher automationdomain.Dispatcher
	Fulfiller  automationdomain.Fulfiller
}

// Service reconciles payment outcomes onto orders. Each transition commits
// on its own; automation runs only after a new capture has committed.
type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       orderdomain.Repository
	dispatcher automationdomain.Dispatcher
	fulfiller  automationdomain.Fulfiller
}

func NewService(p ServiceParam) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.reconciler"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		dispatcher: p.Dispatcher,
		fulfiller:  p.Fulfiller,
	}
}

func Routes(s *Service) []webhookdomain.Route {
	return []webhookdomain.Route{
		{Type: webhookdomain.EventPaymentCaptured, Handler: s.HandleCaptured},
		{Type: webhookdomain.EventPaymentFailed, Handler: s.HandleFailed},
		{Type: webhookdomain.EventRefundCreated, Handler: s.HandleRefund},
	}
}

func (s *Service) HandleCaptured(ctx context.Context, _ webhookdomain.EventType, env *webhookdomain.Envelope) error {
	if env == nil || env.Payload.Payment == nil {
		return webhookdomain.ErrInvalidPayload
	}
	payment := env.Payload.Payment.Entity
	log := s.logger(ctx).With(zap.String("external_order_id", payment.OrderID), zap.String("external_payment_id", payment.ID))
	if strings.TrimSpace(payment.OrderID) == "" {
		log.Debug("captured payment has no order")
		return nil
	}

	var capture *automationdomain.CaptureContext
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByExternalOrderID(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			log.Debug("order not found for capture")
			return nil
		}
		if order.Status == orderdomain.StatusCompleted {
			log.Info("order already completed, ignoring capture")
			return nil
		}

		now := s.clock.Now()
		if mismatch := order.CaptureMismatch(payment.Amount, payment.Currency); mismatch != "" {
			return s.rejectCapture(ctx, tx, log, order, payment, mismatch)
		}

		ok, err := s.repo.MarkCaptured(ctx, tx, order.ID, payment.ID, now)
		if err != nil {
			return err
		}
		if !ok {
			log.Info("capture does not apply to order", zap.String("status", string(order.Status)))
			return nil
		}
		if err := s.audit(ctx, tx, order, orderdomain.TransactionCapture, payment.ID, payment.Amount, payment.Currency, orderdomain.PaymentStatusPaid); err != nil {
			return err
		}
		if err := s.applyCaptureEffects(ctx, tx, log, order); err != nil {
			return err
		}

		items, err := s.repo.ListItems(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		productIDs := make([]snowflake.ID, 0, len(items))
		for _, item := range items {
			productIDs = append(productIDs, item.ProductID)
		}
		customerEmail := order.CustomerEmail
		if customerEmail == "" {
			customerEmail = payment.Email
		}
		capture = &automationdomain.CaptureContext{
			OrderID:       order.ID,
			CustomerEmail: customerEmail,
			RecipientID:   order.RecipientID(),
			ProductIDs:    productIDs,
		}
		return nil
	})
	if err != nil {
		return err
	}

	if capture != nil {
		log.Info("order completed", zap.String("order_id", capture.OrderID.String()))
		// Detached: the order is already completed and a redelivery will not
		// dispatch again.
		s.dispatcher.DispatchCapture(context.WithoutCancel(ctx), *capture)
	}
	return nil
}

// rejectCapture fails the order instead of fulfilling it when the captured
// money does not match. The event is still acknowledged.
func (s *Service) rejectCapture(ctx context.Context, tx *gorm.DB, log *zap.Logger, order *orderdomain.Order, payment webhookdomain.PaymentEntity, mismatch string) error {
	log.Error("captured payment does not match order, not fulfilling",
		zap.String("order_id", order.ID.String()),
		zap.String("reason", mismatch),
		zap.Int64("expected_amount", order.TotalAmount),
		zap.String("expected_currency", order.Currency),
		zap.Int64("captured_amount", payment.Amount),
		zap.String("captured_currency", payment.Currency),
	)
	if _, err := s.repo.MarkFailed(ctx, tx, order.ID, mismatch, s.clock.Now()); err != nil {
		return err
	}
	return s.audit(ctx, tx, order, orderdomain.TransactionCapture, payment.ID, payment.Amount, payment.Currency, orderdomain.PaymentStatusRejected)
}

func (s *Service) applyCaptureEffects(ctx context.Context, tx *gorm.DB, log *zap.Logger, order *orderdomain.Order) error {
	now := s.clock.Now()

	if order.CreatorID != nil {
		counted, err := s.repo.IncrementFreeTierOrders(ctx, tx, *order.CreatorID, now)
		if err != nil {
			return err
		}
		if counted {
			log.Debug("free tier order counted", zap.String("creator_id", order.CreatorID.String()))
		}
	}

	if order.CouponID != nil {
		used, err := s.repo.IncrementCouponUsage(ctx, tx, *order.CouponID, now)
		if err != nil {
			return err
		}
		if !used {
			log.Warn("coupon on order not found", zap.String("coupon_id", order.CouponID.String()))
		}
	}

	if order.AffiliateID == nil {
		return nil
	}
	affiliate, err := s.repo.FindActiveAffiliate(ctx, tx, *order.AffiliateID, order.CreatorID)
	if err != nil {
		return err
	}
	if affiliate == nil {
		log.Info("affiliate on order is not active", zap.String("affiliate_id", order.AffiliateID.String()))
		return nil
	}
	commission := affiliate.Commission(order.TotalAmount)
	if err := s.repo.RecordCommission(ctx, tx, order.ID, affiliate.ID, commission, now); err != nil {
		return err
	}
	log.Info("affiliate commission recorded",
		zap.String("affiliate_code", affiliate.AffiliateCode),
		zap.Int64("commission", commission),
	)
	return nil
}

func (s *Service) HandleFailed(ctx context.Context, _ webhookdomain.EventType, env *webhookdomain.Envelope) error {
	if env == nil || env.Payload.Payment == nil {
		return webhookdomain.ErrInvalidPayload
	}
	payment := env.Payload.Payment.Entity
	log := s.logger(ctx).With(zap.String("external_order_id", payment.OrderID), zap.String("external_payment_id", payment.ID))
	if strings.TrimSpace(payment.OrderID) == "" {
		log.Debug("failed payment has no order")
		return nil
	}

	reason := strings.TrimSpace(payment.ErrorDescription)
	if reason == "" {
		reason = strings.TrimSpace(payment.ErrorCode)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByExternalOrderID(ctx, tx, payment.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			log.Debug("order not found for payment failure")
			return nil
		}

		ok, err := s.repo.MarkFailed(ctx, tx, order.ID, reason, s.clock.Now())
		if err != nil {
			return err
		}
		if !ok {
			log.Info("failure does not apply to order", zap.String("status", string(order.Status)))
			return nil
		}
		log.Warn("order payment failed", zap.String("order_id", order.ID.String()), zap.String("reason", reason))
		return s.audit(ctx, tx, order, orderdomain.TransactionFailure, payment.ID, payment.Amount, payment.Currency, orderdomain.PaymentStatusFailed)
	})
}

func (s *Service) HandleRefund(ctx context.Context, _ webhookdomain.EventType, env *webhookdomain.Envelope) error {
	if env == nil || env.Payload.Refund == nil {
		return webhookdomain.ErrInvalidPayload
	}
	refund := env.Payload.Refund.Entity
	log := s.logger(ctx).With(zap.String("external_payment_id", refund.PaymentID), zap.String("refund_id", refund.ID))

	var refunded *orderdomain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.repo.FindByExternalPaymentID(ctx, tx, refund.PaymentID)
		if err != nil {
			return err
		}
		if order == nil {
			log.Debug("order not found for refund")
			return nil
		}

		update := orderdomain.RefundUpdate{
			RefundStatus:  orderdomain.RefundStatusFull,
			PaymentStatus: orderdomain.PaymentStatusRefunded,
			Amount:        refund.Amount,
			RefundedAt:    s.clock.Now(),
		}
		if refund.Amount < order.TotalAmount {
			update.RefundStatus = orderdomain.RefundStatusPartial
			update.PaymentStatus = orderdomain.PaymentStatusPartiallyRefunded
		}

		ok, err := s.repo.MarkRefunded(ctx, tx, order.ID, update)
		if err != nil {
			return err
		}
		if !ok {
			log.Info("order already refunded, ignoring refund")
			return nil
		}
		if err := s.audit(ctx, tx, order, orderdomain.TransactionRefund, refund.PaymentID, refund.Amount, refund.Currency, update.PaymentStatus); err != nil {
			return err
		}
		refunded = order
		return nil
	})
	if err != nil {
		return err
	}

	if refunded != nil {
		log.Info("order refunded", zap.String("order_id", refunded.ID.String()), zap.Int64("refund_amount", refund.Amount))
		if err := s.fulfiller.RevokeOrder(context.WithoutCancel(ctx), refunded.ID, revokeReasonRefund); err != nil {
			log.Warn("fulfillment revocation failed", zap.String("order_id", refunded.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, order *orderdomain.Order, kind orderdomain.TransactionKind, paymentID string, amount int64, currency, status string) error {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = order.Currency
	}
	var externalPaymentID *string
	if paymentID = strings.TrimSpace(paymentID); paymentID != "" {
		externalPaymentID = &paymentID
	}
	return s.repo.InsertTransaction(ctx, tx, &orderdomain.Transaction{
		ID:                s.genID.Generate(),
		OrderID:           order.ID,
		Kind:              kind,
		ExternalPaymentID: externalPaymentID,
		Amount:            amount,
		Currency:          currency,
		Status:            status,
		CreatedAt:         s.clock.Now(),
	})
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}
