package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const PlatformRazorpay = "razorpay"

// Envelope is the gateway's webhook body.
type Envelope struct {
	ID        string  `json:"id"`
	Event     string  `json:"event"`
	CreatedAt int64   `json:"created_at"`
	Payload   Payload `json:"payload"`
}

type Payload struct {
	Subscription *SubscriptionWrapper `json:"subscription,omitempty"`
	Payment      *PaymentWrapper      `json:"payment,omitempty"`
	Refund       *RefundWrapper       `json:"refund,omitempty"`
}

type SubscriptionWrapper struct {
	Entity SubscriptionEntity `json:"entity"`
}

type PaymentWrapper struct {
	Entity PaymentEntity `json:"entity"`
}

type RefundWrapper struct {
	Entity RefundEntity `json:"entity"`
}

type SubscriptionEntity struct {
	ID           string `json:"id" validate:"required"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	StartAt      int64  `json:"start_at"`
	EndAt        int64  `json:"end_at"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
	ChargeAt     int64  `json:"charge_at"`
}

type PaymentEntity struct {
	ID               string `json:"id" validate:"required"`
	OrderID          string `json:"order_id"`
	Amount           int64  `json:"amount" validate:"gte=0"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Email            string `json:"email"`
}

type RefundEntity struct {
	ID        string `json:"id" validate:"required"`
	PaymentID string `json:"payment_id" validate:"required"`
	Amount    int64  `json:"amount" validate:"gte=0"`
	Currency  string `json:"currency"`
}

var validate = validator.New()

// DecodeEnvelope parses a raw webhook body.
func DecodeEnvelope(body []byte) (*Envelope, error) {
	if !json.Valid(body) {
		return nil, ErrInvalidPayload
	}
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, ErrInvalidPayload
	}
	if strings.TrimSpace(env.Event) == "" {
		return nil, ErrInvalidPayload
	}
	return &env, nil
}

// ResolveEventID picks the gateway event id from the body, then the delivery
// header, then the payment entity.
func (e *Envelope) ResolveEventID(header string) string {
	if id := strings.TrimSpace(e.ID); id != "" {
		return id
	}
	if id := strings.TrimSpace(header); id != "" {
		return id
	}
	if e.Payload.Payment != nil {
		return strings.TrimSpace(e.Payload.Payment.Entity.ID)
	}
	return ""
}

// Validate checks that the entities required by the event type are present.
func (e *Envelope) Validate(t EventType) error {
	switch {
	case t == EventSubscriptionCharged:
		if e.Payload.Subscription == nil || e.Payload.Payment == nil {
			return ErrInvalidPayload
		}
		if err := validate.Struct(e.Payload.Subscription.Entity); err != nil {
			return ErrInvalidPayload
		}
		if err := validate.Struct(e.Payload.Payment.Entity); err != nil {
			return ErrInvalidPayload
		}
	case t.IsSubscription():
		if e.Payload.Subscription == nil {
			return ErrInvalidPayload
		}
		if err := validate.Struct(e.Payload.Subscription.Entity); err != nil {
			return ErrInvalidPayload
		}
	case t == EventPaymentCaptured || t == EventPaymentFailed:
		if e.Payload.Payment == nil {
			return ErrInvalidPayload
		}
		if err := validate.Struct(e.Payload.Payment.Entity); err != nil {
			return ErrInvalidPayload
		}
	case t == EventRefundCreated:
		if e.Payload.Refund == nil {
			return ErrInvalidPayload
		}
		if err := validate.Struct(e.Payload.Refund.Entity); err != nil {
			return ErrInvalidPayload
		}
	}
	return nil
}

// PayloadHash is the hex SHA-256 of the raw body.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// UnixTime converts a gateway epoch-seconds field. Zero means absent.
func UnixTime(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
