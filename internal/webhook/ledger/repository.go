package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) HasProcessed(ctx context.Context, db *gorm.DB, eventID string) (bool, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// RecordPending inserts the ledger row. A row that already exists, including
// one inserted concurrently by a duplicate delivery, yields
// ErrEventAlreadyProcessed.
func (r *repo) RecordPending(ctx context.Context, db *gorm.DB, event *domain.WebhookEvent) error {
	if event == nil {
		return domain.ErrInvalidPayload
	}
	event.Status = domain.EventStatusPending
	if event.Attempts == 0 {
		event.Attempts = 1
	}
	if event.UpdatedAt.IsZero() {
		event.UpdatedAt = event.ReceivedAt
	}

	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(event)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return domain.ErrEventAlreadyProcessed
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrEventAlreadyProcessed
	}
	return nil
}

func (r *repo) MarkProcessed(ctx context.Context, db *gorm.DB, eventID string, processedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(map[string]any{
			"status":       domain.EventStatusProcessed,
			"processed_at": processedAt,
			"last_error":   nil,
			"updated_at":   processedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, eventID string, reason string, failedAt time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.WebhookEvent{}).
		Where("event_id = ? AND status <> ?", eventID, domain.EventStatusProcessed).
		Updates(map[string]any{
			"status":     domain.EventStatusError,
			"last_error": reason,
			"updated_at": failedAt,
		})
	return res.Error
}

// ClaimStale returns pending or errored rows last touched before
// filter.OlderThan. Each row is claimed by bumping attempts with the
// previously read value as the guard, so concurrent sweepers never claim the
// same row twice.
func (r *repo) ClaimStale(ctx context.Context, db *gorm.DB, filter domain.ClaimFilter) ([]domain.WebhookEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var candidates []domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("status IN ? AND updated_at < ? AND attempts < ?",
			[]domain.EventStatus{domain.EventStatusPending, domain.EventStatusError},
			filter.OlderThan,
			filter.MaxAttempts,
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, err
	}

	claimed := make([]domain.WebhookEvent, 0, len(candidates))
	for _, candidate := range candidates {
		res := db.WithContext(ctx).
			Model(&domain.WebhookEvent{}).
			Where("id = ? AND attempts = ?", candidate.ID, candidate.Attempts).
			Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": filter.Now,
			})
		if res.Error != nil {
			return claimed, res.Error
		}
		if res.RowsAffected != 1 {
			continue
		}
		candidate.Attempts++
		candidate.UpdatedAt = filter.Now
		claimed = append(claimed, candidate)
	}
	return claimed, nil
}

func (r *repo) Find(ctx context.Context, db *gorm.DB, eventID string) (*domain.WebhookEvent, error) {
	var item domain.WebhookEvent
	err := db.WithContext(ctx).
		Where("event_id = ?", eventID).
		Limit(1).
		Find(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
