package service

import (
	"context"
	"fmt"

	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type DunningParams struct {
	fx.In

	Queue      domain.Enqueuer
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type dunning struct {
	queue      domain.Enqueuer
	obsMetrics *obsmetrics.Metrics
}

func NewDunning(p DunningParams) domain.DunningEnqueuer {
	return &dunning{queue: p.Queue, obsMetrics: p.ObsMetrics}
}

// EnqueueDunning writes through tx so the notice commits with the status
// change that triggered it. One notice per subscription and failure count.
func (d *dunning) EnqueueDunning(ctx context.Context, tx *gorm.DB, notice domain.DunningNotice) error {
	created, err := d.queue.Enqueue(ctx, tx, domain.EnqueueRequest{
		Type: domain.JobTypeDunningNotice,
		Payload: domain.DunningNoticePayload{
			SubscriptionID: notice.SubscriptionID.String(),
			UserID:         notice.UserID.String(),
			Reason:         notice.Reason,
			FailureCount:   notice.FailureCount,
		},
		DedupeKey: fmt.Sprintf("%s:%s:%d", domain.JobTypeDunningNotice, notice.SubscriptionID, notice.FailureCount),
	})
	if err != nil {
		d.obsMetrics.RecordAutomationJob(ctx, string(domain.JobTypeDunningNotice), outcomeFailed)
		return err
	}
	outcome := outcomeEnqueued
	if !created {
		outcome = outcomeDuplicate
	}
	d.obsMetrics.RecordAutomationJob(ctx, string(domain.JobTypeDunningNotice), outcome)
	return nil
}
