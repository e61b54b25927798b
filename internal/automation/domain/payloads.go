package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// EnqueueRequest is one job to hand to the worker. A non-empty DedupeKey
// makes the enqueue idempotent.
type EnqueueRequest struct {
	Type      JobType
	Payload   any
	NextRunAt *time.Time
	DedupeKey string
}

type DMDeliveryPayload struct {
	OrderID     string `json:"order_id"`
	ProductID   string `json:"product_id"`
	CreatorID   string `json:"creator_id"`
	Channel     string `json:"channel"`
	RecipientID string `json:"recipient_id"`
	AccessToken string `json:"access_token"`
	Template    string `json:"template"`
}

type OneOffEmailPayload struct {
	OrderID   string `json:"order_id"`
	ProductID string `json:"product_id"`
	To        string `json:"to"`
	Template  string `json:"template"`
}

type DigitalDeliveryPayload struct {
	OrderID string `json:"order_id"`
}

type DigitalRevocationPayload struct {
	OrderID string `json:"order_id"`
	Reason  string `json:"reason"`
}

type DunningNoticePayload struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	Reason         string `json:"reason"`
	FailureCount   int    `json:"failure_count"`
}

// DunningNotice asks the worker to tell a user their renewal payment failed.
type DunningNotice struct {
	SubscriptionID snowflake.ID
	UserID         snowflake.ID
	Reason         string
	FailureCount   int
}

// CaptureContext is what the dispatcher needs from a freshly captured order.
type CaptureContext struct {
	OrderID       snowflake.ID
	CustomerEmail string
	RecipientID   string
	ProductIDs    []snowflake.ID
}

// DispatchReport summarizes one best-effort dispatch.
type DispatchReport struct {
	DMJobs      int
	EmailJobs   int
	Fulfillment bool
	Failures    int
}
