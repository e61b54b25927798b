package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type FulfillerParams struct {
	fx.In

	DB    *gorm.DB
	Queue domain.Enqueuer
}

// queueFulfiller hands delivery and revocation to the worker. The dedupe key
// is per order so repeated requests collapse into one job.
type queueFulfiller struct {
	db    *gorm.DB
	queue domain.Enqueuer
}

func NewFulfiller(p FulfillerParams) domain.Fulfiller {
	return &queueFulfiller{db: p.DB, queue: p.Queue}
}

func (f *queueFulfiller) FulfillOrder(ctx context.Context, orderID snowflake.ID) error {
	_, err := f.queue.Enqueue(ctx, f.db, domain.EnqueueRequest{
		Type:      domain.JobTypeDigitalDelivery,
		Payload:   domain.DigitalDeliveryPayload{OrderID: orderID.String()},
		DedupeKey: fmt.Sprintf("%s:%s", domain.JobTypeDigitalDelivery, orderID),
	})
	return err
}

func (f *queueFulfiller) RevokeOrder(ctx context.Context, orderID snowflake.ID, reason string) error {
	_, err := f.queue.Enqueue(ctx, f.db, domain.EnqueueRequest{
		Type:      domain.JobTypeDigitalRevocation,
		Payload:   domain.DigitalRevocationPayload{OrderID: orderID.String(), Reason: reason},
		DedupeKey: fmt.Sprintf("%s:%s", domain.JobTypeDigitalRevocation, orderID),
	})
	return err
}
