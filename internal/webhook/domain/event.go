package domain

import "strings"

// EventType is the closed set of gateway events this service reacts to.
type EventType string

const (
	EventSubscriptionActivated EventType = "subscription.activated"
	EventSubscriptionCharged   EventType = "subscription.charged"
	EventSubscriptionCancelled EventType = "subscription.cancelled"
	EventSubscriptionExpired   EventType = "subscription.expired"
	EventSubscriptionCompleted EventType = "subscription.completed"
	EventSubscriptionPaused    EventType = "subscription.paused"
	EventSubscriptionPending   EventType = "subscription.pending"
	EventSubscriptionHalted    EventType = "subscription.halted"
	EventPaymentCaptured       EventType = "payment.captured"
	EventPaymentFailed         EventType = "payment.failed"
	EventRefundCreated         EventType = "refund.created"
)

var knownEventTypes = map[EventType]struct{}{
	EventSubscriptionActivated: {},
	EventSubscriptionCharged:   {},
	EventSubscriptionCancelled: {},
	EventSubscriptionExpired:   {},
	EventSubscriptionCompleted: {},
	EventSubscriptionPaused:    {},
	EventSubscriptionPending:   {},
	EventSubscriptionHalted:    {},
	EventPaymentCaptured:       {},
	EventPaymentFailed:         {},
	EventRefundCreated:         {},
}

// ParseEventType maps a raw gateway event name onto a known EventType.
func ParseEventType(raw string) (EventType, bool) {
	t := EventType(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := knownEventTypes[t]
	return t, ok
}

func (t EventType) String() string { return string(t) }

// IsSubscription reports whether the event carries a subscription entity.
func (t EventType) IsSubscription() bool {
	return strings.HasPrefix(string(t), "subscription.")
}
