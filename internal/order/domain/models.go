// Package domain models one-off storefront orders and the payment outcomes
// reconciled onto them.
package domain

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

const (
	PaymentStatusPending           = "pending"
	PaymentStatusPaid              = "paid"
	PaymentStatusFailed            = "failed"
	PaymentStatusRefunded          = "refunded"
	PaymentStatusPartiallyRefunded = "partially_refunded"
	PaymentStatusRejected          = "rejected"

	RefundStatusFull    = "full"
	RefundStatusPartial = "partial"

	MismatchAmount   = "amount_mismatch"
	MismatchCurrency = "currency_mismatch"

	AffiliateStatusActive = "active"
)

type TransactionKind string

const (
	TransactionCapture TransactionKind = "capture"
	TransactionFailure TransactionKind = "failure"
	TransactionRefund  TransactionKind = "refund"
)

type Order struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	ExternalOrderID   string        `gorm:"type:varchar(191);not null;uniqueIndex"`
	ExternalPaymentID *string       `gorm:"type:varchar(191);index"`
	Status            Status        `gorm:"type:varchar(16);not null"`
	PaymentStatus     string        `gorm:"type:varchar(32);not null"`
	CustomerEmail     string        `gorm:"type:varchar(191);not null"`
	TotalAmount       int64         `gorm:"not null"`
	Currency          string        `gorm:"type:varchar(8);not null"`
	CreatorID         *snowflake.ID `gorm:""`
	CouponID          *snowflake.ID `gorm:""`
	AffiliateID       *snowflake.ID `gorm:""`
	CommissionAmount  *int64        `gorm:""`
	Metadata          *string       `gorm:"type:text"`
	FailureReason     *string       `gorm:"type:text"`
	RefundStatus      *string       `gorm:"type:varchar(16)"`
	RefundAmount      *int64        `gorm:""`
	RefundedAt        *time.Time    `gorm:""`
	PaidAt            *time.Time    `gorm:""`
	CreatedAt         time.Time     `gorm:"not null"`
	UpdatedAt         time.Time     `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

type orderMetadata struct {
	DMRecipientID string `json:"dm_recipient_id"`
}

// RecipientID is the buyer's messaging handle captured at checkout, if any.
func (o Order) RecipientID() string {
	if o.Metadata == nil || strings.TrimSpace(*o.Metadata) == "" {
		return ""
	}
	var meta orderMetadata
	if err := json.Unmarshal([]byte(*o.Metadata), &meta); err != nil {
		return ""
	}
	return strings.TrimSpace(meta.DMRecipientID)
}

type OrderItem struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	OrderID    snowflake.ID `gorm:"not null;index"`
	ProductID  snowflake.ID `gorm:"not null"`
	Quantity   int          `gorm:"not null"`
	UnitAmount int64        `gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }

// Transaction is the append-only audit trail of gateway outcomes per order.
type Transaction struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	OrderID           snowflake.ID    `gorm:"not null;index"`
	Kind              TransactionKind `gorm:"type:varchar(16);not null"`
	ExternalPaymentID *string         `gorm:"type:varchar(191)"`
	Amount            int64           `gorm:"not null"`
	Currency          string          `gorm:"type:varchar(8);not null"`
	Status            string          `gorm:"type:varchar(32);not null"`
	CreatedAt         time.Time       `gorm:"not null"`
}

func (Transaction) TableName() string { return "order_transactions" }

// CaptureMismatch compares a captured payment with what the order expects.
// It returns the mismatch reason, or "" when amount and currency agree.
func (o Order) CaptureMismatch(amount int64, currency string) string {
	if amount != o.TotalAmount {
		return MismatchAmount
	}
	if !strings.EqualFold(strings.TrimSpace(currency), strings.TrimSpace(o.Currency)) {
		return MismatchCurrency
	}
	return ""
}

// Affiliate earns a commission, in basis points of the order total, on
// captured orders it referred.
type Affiliate struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	CreatorID         snowflake.ID  `gorm:"not null"`
	AffiliateUserID   *snowflake.ID `gorm:""`
	AffiliateCode     string        `gorm:"type:varchar(64);not null"`
	CommissionRateBps int           `gorm:"not null"`
	Status            string        `gorm:"type:varchar(16);not null"`
	TotalSales        int           `gorm:"not null"`
	TotalCommission   int64         `gorm:"not null"`
	CreatedAt         time.Time     `gorm:"not null"`
	UpdatedAt         time.Time     `gorm:"not null"`
}

func (Affiliate) TableName() string { return "affiliates" }

// Commission is the affiliate's share of total, rounded down to the minor
// unit.
func (a Affiliate) Commission(total int64) int64 {
	if a.CommissionRateBps <= 0 || total <= 0 {
		return 0
	}
	return total * int64(a.CommissionRateBps) / 10000
}

// RefundUpdate carries the columns written when a refund lands.
type RefundUpdate struct {
	RefundStatus  string
	PaymentStatus string
	Amount        int64
	RefundedAt    time.Time
}

// Repository transitions are conditional updates. ok is false when the
// order was already in a state the transition must not override.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindByExternalOrderID(ctx context.Context, db *gorm.DB, externalOrderID string) (*Order, error)
	FindByExternalPaymentID(ctx context.Context, db *gorm.DB, externalPaymentID string) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]OrderItem, error)
	ListTransactions(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]Transaction, error)
	MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, externalPaymentID string, paidAt time.Time) (ok bool, err error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (ok bool, err error)
	MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, update RefundUpdate) (ok bool, err error)
	InsertTransaction(ctx context.Context, db *gorm.DB, txn *Transaction) error

	// Capture side effects. Each runs inside the capture transaction.
	IncrementFreeTierOrders(ctx context.Context, db *gorm.DB, creatorID snowflake.ID, at time.Time) (bool, error)
	IncrementCouponUsage(ctx context.Context, db *gorm.DB, couponID snowflake.ID, at time.Time) (bool, error)
	FindActiveAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, creatorID *snowflake.ID) (*Affiliate, error)
	RecordCommission(ctx context.Context, db *gorm.DB, orderID, affiliateID snowflake.ID, amount int64, at time.Time) error
}

var ErrInvalidOrder = errors.New("invalid_order")
