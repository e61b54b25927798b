package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/creatorpay/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/creatorpay/internal/invoice/format"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	"github.com/smallbiznis/creatorpay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  invoicedomain.Repository
}

type Service struct {
	log      *zap.Logger
	genID    *snowflake.Node
	repo     invoicedomain.Repository
	template string
}

func NewService(p Params) invoicedomain.Recorder {
	return &Service{
		log:      p.Log.Named("invoice.recorder"),
		genID:    p.GenID,
		repo:     p.Repo,
		template: invoiceformat.DefaultInvoiceNumberTemplate,
	}
}

// RecordCharge writes the payment and the next invoice for the user inside
// tx. The user row is locked while the invoice count is taken, and the
// (user_id, invoice_number) unique key rejects anything that slips past.
func (s *Service) RecordCharge(ctx context.Context, tx *gorm.DB, in invoicedomain.ChargeInput) (*invoicedomain.Invoice, bool, error) {
	in.ExternalPaymentID = strings.TrimSpace(in.ExternalPaymentID)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	if in.UserID == 0 || in.ExternalPaymentID == "" || in.Amount < 0 || in.ChargedAt.IsZero() {
		return nil, false, invoicedomain.ErrInvalidCharge
	}

	var subscriptionID *snowflake.ID
	if in.SubscriptionID != 0 {
		id := in.SubscriptionID
		subscriptionID = &id
	}

	payment := &invoicedomain.Payment{
		ID:                s.genID.Generate(),
		UserID:            in.UserID,
		SubscriptionID:    subscriptionID,
		ExternalPaymentID: in.ExternalPaymentID,
		Amount:            in.Amount,
		Currency:          in.Currency,
		Status:            invoicedomain.PaymentStatusCaptured,
		CreatedAt:         in.ChargedAt,
	}
	inserted, err := s.repo.InsertPayment(ctx, tx, payment)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		obslogger.WithContext(ctx, s.log).Info("payment already recorded",
			zap.String("external_payment_id", in.ExternalPaymentID),
		)
		return nil, false, nil
	}

	user, err := s.repo.LockUser(ctx, tx, in.UserID)
	if err != nil {
		return nil, false, err
	}
	username := ""
	if user != nil && user.Username != nil {
		username = *user.Username
	}

	count, err := s.repo.CountInvoices(ctx, tx, in.UserID)
	if err != nil {
		return nil, false, err
	}

	number, err := invoiceformat.FormatInvoiceNumber(
		s.template,
		in.ChargedAt,
		invoiceformat.UserTag(username, in.UserID),
		count+1,
	)
	if err != nil {
		return nil, false, err
	}

	paymentID := payment.ID
	invoice := &invoicedomain.Invoice{
		ID:             s.genID.Generate(),
		UserID:         in.UserID,
		SubscriptionID: subscriptionID,
		PaymentID:      &paymentID,
		InvoiceNumber:  number,
		Amount:         in.Amount,
		Currency:       in.Currency,
		IssuedAt:       in.ChargedAt,
	}
	if err := s.repo.InsertInvoice(ctx, tx, invoice); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, false, invoicedomain.ErrInvoiceNumberConflict
		}
		return nil, false, err
	}

	obslogger.WithContext(ctx, s.log).Info("invoice issued",
		zap.String("invoice_number", number),
		zap.String("user_id", in.UserID.String()),
		zap.String("external_payment_id", in.ExternalPaymentID),
		zap.Int64("amount", in.Amount),
	)
	return invoice, true, nil
}
