package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusProcessed EventStatus = "processed"
	EventStatusError     EventStatus = "error"
)

// WebhookEvent is one ledger row per distinct gateway event id.
type WebhookEvent struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	EventID     string         `json:"event_id" gorm:"type:varchar(191);not null;uniqueIndex"`
	Platform    string         `json:"platform" gorm:"type:varchar(32);not null"`
	EventType   string         `json:"event_type" gorm:"type:varchar(64);not null"`
	PayloadHash string         `json:"payload_hash" gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON `json:"payload" gorm:"type:text;not null"`
	Status      EventStatus    `json:"status" gorm:"type:varchar(16);not null"`
	Attempts    int            `json:"attempts" gorm:"not null"`
	LastError   *string        `json:"last_error,omitempty"`
	ReceivedAt  time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt *time.Time     `json:"processed_at,omitempty"`
	UpdatedAt   time.Time      `json:"updated_at" gorm:"not null"`
}

func (WebhookEvent) TableName() string { return "webhook_events" }

// ClaimFilter selects ledger rows eligible for another processing pass.
type ClaimFilter struct {
	OlderThan   time.Time
	MaxAttempts int
	Limit       int
	Now         time.Time
}

// Repository is the idempotency ledger. Every call takes the handle to run
// against so callers decide the transaction scope.
type Repository interface {
	HasProcessed(ctx context.Context, db *gorm.DB, eventID string) (bool, error)
	RecordPending(ctx context.Context, db *gorm.DB, event *WebhookEvent) error
	MarkProcessed(ctx context.Context, db *gorm.DB, eventID string, processedAt time.Time) error
	MarkFailed(ctx context.Context, db *gorm.DB, eventID string, reason string, failedAt time.Time) error
	ClaimStale(ctx context.Context, db *gorm.DB, filter ClaimFilter) ([]WebhookEvent, error)
	Find(ctx context.Context, db *gorm.DB, eventID string) (*WebhookEvent, error)
}

// Handler applies one event's business effects.
type Handler func(ctx context.Context, eventType EventType, env *Envelope) error

// Route binds an event type to its handler. Domain modules contribute routes
// to the "webhook_routes" fx group.
type Route struct {
	Type    EventType
	Handler Handler
}
