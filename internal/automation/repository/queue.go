package repository

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	"github.com/smallbiznis/creatorpay/internal/clock"
	"go.uber.org/fx"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type QueueParams struct {
	fx.In

	GenID *snowflake.Node
	Clock clock.Clock
}

type queue struct {
	genID *snowflake.Node
	clock clock.Clock
}

func NewQueue(p QueueParams) domain.Enqueuer {
	return &queue{genID: p.GenID, clock: p.Clock}
}

func (q *queue) Enqueue(ctx context.Context, db *gorm.DB, req domain.EnqueueRequest) (bool, error) {
	if strings.TrimSpace(string(req.Type)) == "" || req.Payload == nil {
		return false, domain.ErrInvalidJob
	}
	payload, err := json.Marshal(req.Payload)
	if err != nil {
		return false, err
	}

	now := q.clock.Now().UTC()
	job := domain.QueueJob{
		ID:          q.genID.Generate(),
		Type:        req.Type,
		Payload:     datatypes.JSON(payload),
		Status:      domain.JobStatusPending,
		MaxAttempts: domain.DefaultMaxAttempts(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if req.NextRunAt != nil {
		runAt := req.NextRunAt.UTC()
		job.NextRunAt = &runAt
	} else {
		job.NextRunAt = &now
	}
	if key := strings.TrimSpace(req.DedupeKey); key != "" {
		job.DedupeKey = &key
	}

	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&job)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// Pending lists queued jobs of one type, oldest first.
func Pending(ctx context.Context, db *gorm.DB, jobType domain.JobType) ([]domain.QueueJob, error) {
	var jobs []domain.QueueJob
	err := db.WithContext(ctx).
		Where("type = ? AND status = ?", jobType, domain.JobStatusPending).
		Order("created_at ASC, id ASC").
		Find(&jobs).Error
	return jobs, err
}
