package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Status string

const (
	StatusTrialing Status = "trialing"
	StatusActive   Status = "active"
	StatusPastDue  Status = "past_due"
	StatusHalted   Status = "halted"
	StatusPending  Status = "pending"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
)

// IsTerminal reports whether the subscription has ended for good.
func (s Status) IsTerminal() bool {
	return s == StatusCanceled || s == StatusExpired
}

// IsDelinquent covers the states a successful charge recovers from.
func (s Status) IsDelinquent() bool {
	return s == StatusPastDue || s == StatusHalted || s == StatusPending
}

// Subscription mirrors a gateway subscription. Version is bumped on every
// write and guards concurrent read-modify-write cycles.
type Subscription struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	UserID                 snowflake.ID `gorm:"not null;index"`
	PlanID                 snowflake.ID `gorm:"not null"`
	ExternalSubscriptionID string       `gorm:"type:varchar(191);not null;uniqueIndex"`
	Status                 Status       `gorm:"type:varchar(16);not null"`
	StartDate              *time.Time   `gorm:""`
	EndDate                *time.Time   `gorm:""`
	TrialEndsAt            *time.Time   `gorm:""`
	RenewalCount           int          `gorm:"not null"`
	FailureCount           int          `gorm:"not null"`
	LastFailureReason      *string      `gorm:"type:text"`
	LastPaymentID          *string      `gorm:"type:varchar(191)"`
	AutoRenew              bool         `gorm:"not null"`
	Version                int64        `gorm:"not null"`
	CreatedAt              time.Time    `gorm:"not null"`
	UpdatedAt              time.Time    `gorm:"not null"`
}

func (Subscription) TableName() string { return "subscriptions" }
