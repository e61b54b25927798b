package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	subscriptiondomain "github.com/smallbiznis/creatorpay/internal/subscription/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() subscriptiondomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription) error {
	if subscription == nil || subscription.ID == 0 {
		return subscriptiondomain.ErrInvalidSubscription
	}
	return db.WithContext(ctx).Create(subscription).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return r.findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*subscriptiondomain.Subscription, error) {
	return r.findOne(db.WithContext(ctx).Where("external_subscription_id = ?", externalID))
}

func (r *repo) findOne(query *gorm.DB) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	if err := query.Take(&subscription).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &subscription, nil
}

func (r *repo) UpdateVersioned(ctx context.Context, db *gorm.DB, subscription *subscriptiondomain.Subscription, expected int64) (bool, error) {
	next := expected + 1
	result := db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ? AND version = ?", subscription.ID, expected).
		Updates(map[string]any{
			"status":              subscription.Status,
			"start_date":          subscription.StartDate,
			"end_date":            subscription.EndDate,
			"trial_ends_at":       subscription.TrialEndsAt,
			"renewal_count":       subscription.RenewalCount,
			"failure_count":       subscription.FailureCount,
			"last_failure_reason": subscription.LastFailureReason,
			"last_payment_id":     subscription.LastPaymentID,
			"auto_renew":          subscription.AutoRenew,
			"version":             next,
			"updated_at":          subscription.UpdatedAt,
		})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	subscription.Version = next
	return true, nil
}
