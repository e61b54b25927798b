package domain

import (
	"time"

	webhookdomain "github.com/smallbiznis/creatorpay/internal/webhook/domain"
)

type EntitlementAction string

const (
	EntitlementNone       EntitlementAction = "none"
	EntitlementRefresh    EntitlementAction = "refresh"
	EntitlementDowngrade  EntitlementAction = "downgrade"
	EntitlementStatusOnly EntitlementAction = "status_only"
)

const defaultFailureReason = "payment_failed"

// Input is the part of a gateway event the state machine looks at.
type Input struct {
	Event         webhookdomain.EventType
	StartAt       *time.Time
	EndAt         *time.Time
	PaymentID     string
	FailureReason string
	// HasCachedLimits is false when the user carries no plan limits snapshot.
	HasCachedLimits bool
}

// Decision is the full next state plus the side effects the caller must
// perform in the same transaction.
type Decision struct {
	Next            Subscription
	Entitlement     EntitlementAction
	RecordCharge    bool
	EnqueueDunning  bool
	TrialConversion bool
	// TrimProducts parks catalog entries above the free allowance. Set for
	// subscriptions that ran out, never for cancellations.
	TrimProducts bool
	Skip         bool
}

// Decide computes the transition for one event against the stored record.
// It never looks at event ordering, only at current state.
func Decide(current Subscription, in Input, now time.Time) Decision {
	next := current
	next.UpdatedAt = now.UTC()
	d := Decision{Next: next, Entitlement: EntitlementNone}

	switch in.Event {
	case webhookdomain.EventSubscriptionActivated:
		if current.Status.IsTerminal() {
			d.Skip = true
			return d
		}
		if in.StartAt != nil {
			d.Next.StartDate = in.StartAt
		}
		if in.StartAt != nil && in.StartAt.After(now) {
			d.Next.Status = StatusTrialing
			d.Next.TrialEndsAt = in.StartAt
		} else {
			d.Next.Status = StatusActive
		}
		if in.EndAt != nil {
			d.Next.EndDate = in.EndAt
		}
		d.Entitlement = EntitlementRefresh

	case webhookdomain.EventSubscriptionCharged:
		d.RecordCharge = true
		if in.PaymentID != "" {
			paymentID := in.PaymentID
			d.Next.LastPaymentID = &paymentID
		}
		if current.Status.IsTerminal() {
			return d
		}
		d.Next.Status = StatusActive
		if in.EndAt != nil {
			d.Next.EndDate = in.EndAt
		}
		d.Next.RenewalCount++
		d.Next.FailureCount = 0
		d.Next.LastFailureReason = nil
		d.TrialConversion = current.Status == StatusTrialing || !in.HasCachedLimits
		if d.TrialConversion || current.Status.IsDelinquent() {
			d.Entitlement = EntitlementRefresh
		} else {
			d.Entitlement = EntitlementStatusOnly
		}

	case webhookdomain.EventSubscriptionCancelled, webhookdomain.EventSubscriptionExpired, webhookdomain.EventSubscriptionCompleted:
		ranOut := in.Event != webhookdomain.EventSubscriptionCancelled
		if !current.Status.IsTerminal() {
			d.Next.Status = StatusCanceled
			if ranOut {
				d.Next.Status = StatusExpired
			}
		}
		d.TrimProducts = ranOut
		d.Next.AutoRenew = false
		if in.EndAt != nil {
			d.Next.EndDate = in.EndAt
		}
		d.Entitlement = EntitlementDowngrade

	case webhookdomain.EventSubscriptionPaused, webhookdomain.EventSubscriptionHalted:
		if current.Status.IsTerminal() {
			d.Skip = true
			return d
		}
		d.Next.Status = StatusPastDue
		if in.Event == webhookdomain.EventSubscriptionHalted {
			d.Next.Status = StatusHalted
		}
		d.Entitlement = EntitlementDowngrade

	case webhookdomain.EventSubscriptionPending:
		if current.Status.IsTerminal() {
			d.Skip = true
			return d
		}
		reason := in.FailureReason
		if reason == "" {
			reason = defaultFailureReason
		}
		d.Next.Status = StatusPending
		d.Next.FailureCount++
		d.Next.LastFailureReason = &reason
		d.Entitlement = EntitlementStatusOnly
		d.EnqueueDunning = true

	default:
		d.Skip = true
	}

	return d
}
