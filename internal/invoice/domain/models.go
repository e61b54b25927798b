// Package domain contains persistence models for captured payments and the
// invoices issued for them.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const PaymentStatusCaptured = "captured"

// Payment is written once per captured gateway payment and never mutated.
type Payment struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	UserID            snowflake.ID  `gorm:"not null;index"`
	SubscriptionID    *snowflake.ID `gorm:""`
	ExternalPaymentID string        `gorm:"type:varchar(191);not null;uniqueIndex"`
	Amount            int64         `gorm:"not null"`
	Currency          string        `gorm:"type:varchar(8);not null"`
	Status            string        `gorm:"type:varchar(16);not null"`
	CreatedAt         time.Time     `gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }

// Invoice numbers are gapless and strictly increasing per user.
type Invoice struct {
	ID             snowflake.ID  `gorm:"primaryKey"`
	UserID         snowflake.ID  `gorm:"not null"`
	SubscriptionID *snowflake.ID `gorm:""`
	PaymentID      *snowflake.ID `gorm:""`
	InvoiceNumber  string        `gorm:"type:varchar(64);not null"`
	Amount         int64         `gorm:"not null"`
	Currency       string        `gorm:"type:varchar(8);not null"`
	IssuedAt       time.Time     `gorm:"not null"`
}

func (Invoice) TableName() string { return "invoices" }

// ChargeInput is one successful recurring charge.
type ChargeInput struct {
	UserID            snowflake.ID
	SubscriptionID    snowflake.ID
	ExternalPaymentID string
	Amount            int64
	Currency          string
	ChargedAt         time.Time
}

// UserTagSource is the slice of the user row needed to build invoice numbers.
type UserTagSource struct {
	ID       snowflake.ID
	Username *string
}

type Repository interface {
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	LockUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*UserTagSource, error)
	CountInvoices(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error)
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListInvoices(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]Invoice, error)
}

// Recorder persists a charge. created is false when the gateway payment was
// already recorded, in which case nothing is written.
type Recorder interface {
	RecordCharge(ctx context.Context, tx *gorm.DB, in ChargeInput) (invoice *Invoice, created bool, err error)
}

var (
	ErrInvalidCharge         = errors.New("invalid_charge")
	ErrInvoiceNumberConflict = errors.New("invoice_number_conflict")
)
