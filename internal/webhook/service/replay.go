package service

import (
	"context"

	obscontext "github.com/smallbiznis/creatorpay/internal/observability/context"
	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"go.uber.org/zap"
)

type ReplayStats struct {
	Claimed   int
	Processed int
	Failed    int
}

// ReplayStale re-runs ledger rows stuck in pending past the sweep window, and
// errored rows below the attempt ceiling. Payloads were verified when they
// were recorded, so the signature is not checked again.
func (s *Service) ReplayStale(ctx context.Context, limit int) (ReplayStats, error) {
	now := s.clock.Now()
	claimed, err := s.repo.ClaimStale(ctx, s.db, domain.ClaimFilter{
		OlderThan:   now.Add(-s.sweepAfter),
		MaxAttempts: s.maxAttempts,
		Limit:       limit,
		Now:         now,
	})
	stats := ReplayStats{Claimed: len(claimed)}
	if err != nil {
		return stats, err
	}

	for i := range claimed {
		entry := &claimed[i]
		eventCtx := obscontext.WithEventID(ctx, entry.EventID)

		env, decodeErr := domain.DecodeEnvelope(entry.Payload)
		if decodeErr != nil {
			s.fail(eventCtx, entry, decodeErr)
			stats.Failed++
			continue
		}

		if err := s.runPass(eventCtx, entry, env); err != nil {
			s.fail(eventCtx, entry, err)
			stats.Failed++
			s.obsMetrics.RecordWebhookEvent(eventCtx, entry.EventType, "replay_failed")
			continue
		}
		stats.Processed++
		s.obsMetrics.RecordWebhookEvent(eventCtx, entry.EventType, "replayed")
		s.logger(eventCtx).Info("webhook event replayed",
			zap.String("event_type", entry.EventType),
			zap.Int("attempt", entry.Attempts),
		)
	}

	return stats, nil
}
