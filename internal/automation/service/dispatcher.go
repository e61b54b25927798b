package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	obslogger "github.com/smallbiznis/creatorpay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/creatorpay/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	outcomeEnqueued  = "enqueued"
	outcomeDuplicate = "duplicate"
	outcomeSkipped   = "skipped"
	outcomeFailed    = "failed"
)

type DispatcherParams struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Catalog    domain.CatalogRepository
	Queue      domain.Enqueuer
	Keys       domain.TokenDecrypter
	Fulfiller  domain.Fulfiller
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type dispatcher struct {
	db         *gorm.DB
	log        *zap.Logger
	catalog    domain.CatalogRepository
	queue      domain.Enqueuer
	keys       domain.TokenDecrypter
	fulfiller  domain.Fulfiller
	obsMetrics *obsmetrics.Metrics
}

func NewDispatcher(p DispatcherParams) domain.Dispatcher {
	return &dispatcher{
		db:         p.DB,
		log:        p.Log.Named("automation.dispatcher"),
		catalog:    p.Catalog,
		queue:      p.Queue,
		keys:       p.Keys,
		fulfiller:  p.Fulfiller,
		obsMetrics: p.ObsMetrics,
	}
}

// DispatchCapture enqueues the per-product DM and email jobs, then requests
// fulfillment once for the order. Each branch fails independently.
func (d *dispatcher) DispatchCapture(ctx context.Context, capture domain.CaptureContext) domain.DispatchReport {
	log := obslogger.WithContext(ctx, d.log).With(zap.String("order_id", capture.OrderID.String()))
	var report domain.DispatchReport

	seen := make(map[snowflake.ID]struct{}, len(capture.ProductIDs))
	for _, productID := range capture.ProductIDs {
		if _, ok := seen[productID]; ok {
			continue
		}
		seen[productID] = struct{}{}

		product, err := d.catalog.FindProduct(ctx, d.db, productID)
		if err != nil {
			report.Failures++
			log.Warn("product lookup failed", zap.String("product_id", productID.String()), zap.Error(err))
			continue
		}
		if product == nil {
			log.Debug("product not found", zap.String("product_id", productID.String()))
			continue
		}

		if template := product.DMTemplate(); template != "" {
			switch outcome := d.enqueueDM(ctx, log, capture, product, template); outcome {
			case outcomeEnqueued:
				report.DMJobs++
			case outcomeFailed:
				report.Failures++
			}
		}
		if template := product.EmailTemplate(); template != "" {
			switch outcome := d.enqueueEmail(ctx, log, capture, product, template); outcome {
			case outcomeEnqueued:
				report.EmailJobs++
			case outcomeFailed:
				report.Failures++
			}
		}
	}

	if err := d.fulfiller.FulfillOrder(ctx, capture.OrderID); err != nil {
		report.Failures++
		log.Warn("fulfillment request failed", zap.Error(err))
	} else {
		report.Fulfillment = true
	}

	log.Info("post-purchase dispatch finished",
		zap.Int("dm_jobs", report.DMJobs),
		zap.Int("email_jobs", report.EmailJobs),
		zap.Bool("fulfillment", report.Fulfillment),
		zap.Int("failures", report.Failures),
	)
	return report
}

func (d *dispatcher) enqueueDM(ctx context.Context, log *zap.Logger, capture domain.CaptureContext, product *domain.Product, template string) string {
	log = log.With(zap.String("product_id", product.ID.String()))
	recipient := strings.TrimSpace(capture.RecipientID)
	if recipient == "" {
		return d.record(ctx, domain.JobTypeDMDelivery, outcomeSkipped)
	}

	channel, err := d.catalog.FindActiveChannel(ctx, d.db, product.CreatorID)
	if err != nil {
		log.Warn("channel lookup failed", zap.Error(err))
		return d.record(ctx, domain.JobTypeDMDelivery, outcomeFailed)
	}
	if channel == nil {
		log.Info("dm skipped, creator has no active channel", zap.Error(domain.ErrChannelUnavailable))
		return d.record(ctx, domain.JobTypeDMDelivery, outcomeSkipped)
	}

	token, err := d.keys.Decrypt(channel.Token())
	if err != nil {
		log.Warn("channel token decrypt failed",
			zap.String("channel_id", channel.ID.String()),
			zap.Int("key_version", channel.KeyVersion),
			zap.Error(err),
		)
		return d.record(ctx, domain.JobTypeDMDelivery, outcomeFailed)
	}

	return d.enqueue(ctx, log, domain.EnqueueRequest{
		Type: domain.JobTypeDMDelivery,
		Payload: domain.DMDeliveryPayload{
			OrderID:     capture.OrderID.String(),
			ProductID:   product.ID.String(),
			CreatorID:   product.CreatorID.String(),
			Channel:     channel.Channel,
			RecipientID: recipient,
			AccessToken: token,
			Template:    template,
		},
		DedupeKey: fmt.Sprintf("%s:%s:%s", domain.JobTypeDMDelivery, capture.OrderID, product.ID),
	})
}

func (d *dispatcher) enqueueEmail(ctx context.Context, log *zap.Logger, capture domain.CaptureContext, product *domain.Product, template string) string {
	to := strings.TrimSpace(capture.CustomerEmail)
	if to == "" {
		return d.record(ctx, domain.JobTypeOneOffEmail, outcomeSkipped)
	}
	return d.enqueue(ctx, log.With(zap.String("product_id", product.ID.String())), domain.EnqueueRequest{
		Type: domain.JobTypeOneOffEmail,
		Payload: domain.OneOffEmailPayload{
			OrderID:   capture.OrderID.String(),
			ProductID: product.ID.String(),
			To:        to,
			Template:  template,
		},
		DedupeKey: fmt.Sprintf("%s:%s:%s", domain.JobTypeOneOffEmail, capture.OrderID, product.ID),
	})
}

func (d *dispatcher) enqueue(ctx context.Context, log *zap.Logger, req domain.EnqueueRequest) string {
	created, err := d.queue.Enqueue(ctx, d.db, req)
	if err != nil {
		log.Warn("enqueue failed", zap.String("job_type", string(req.Type)), zap.Error(err))
		return d.record(ctx, req.Type, outcomeFailed)
	}
	if !created {
		return d.record(ctx, req.Type, outcomeDuplicate)
	}
	return d.record(ctx, req.Type, outcomeEnqueued)
}

func (d *dispatcher) record(ctx context.Context, jobType domain.JobType, outcome string) string {
	d.obsMetrics.RecordAutomationJob(ctx, string(jobType), outcome)
	return outcome
}
