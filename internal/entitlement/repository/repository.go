package repository

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindPlanByTier(ctx context.Context, db *gorm.DB, tier string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).
		Where("tier = ?", strings.ToLower(strings.TrimSpace(tier))).
		Order("id ASC").
		Limit(1).
		Find(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	return &plan, nil
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.User, error) {
	var user domain.User
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&user).Error
	if err != nil {
		return nil, err
	}
	if user.ID == 0 {
		return nil, nil
	}
	return &user, nil
}

// UpdateUser applies the non-nil fields of update. It reports false when the
// user row does not exist.
func (r *repo) UpdateUser(ctx context.Context, db *gorm.DB, id snowflake.ID, update domain.UserUpdate) (bool, error) {
	values := map[string]any{
		"updated_at": update.UpdatedAt,
	}
	if update.Tier != nil {
		values["subscription_tier"] = *update.Tier
	}
	if update.Limits != nil {
		encoded, err := json.Marshal(update.Limits)
		if err != nil {
			return false, err
		}
		values["plan_limits"] = string(encoded)
	}
	if update.Status != nil {
		values["subscription_status"] = *update.Status
	}
	if update.EndAt != nil {
		values["subscription_end_at"] = *update.EndAt
	} else if update.ClearEndAt {
		values["subscription_end_at"] = nil
	}
	if update.ActiveSubscriptionID != nil {
		values["active_subscription_id"] = *update.ActiveSubscriptionID
	}
	if update.TrialUsed != nil {
		values["trial_used"] = *update.TrialUsed
	}

	res := db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", id).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListExpiredTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.User, error) {
	if limit <= 0 {
		limit = 100
	}
	var users []domain.User
	err := db.WithContext(ctx).
		Where("subscription_status = ? AND subscription_end_at IS NOT NULL AND subscription_end_at < ?", "trialing", now).
		Order("subscription_end_at ASC").
		Limit(limit).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}

func (r *repo) DeactivateExcessProducts(ctx context.Context, db *gorm.DB, creatorID snowflake.ID, keep int, at time.Time) (int64, error) {
	active := func() *gorm.DB {
		return db.WithContext(ctx).
			Table("products").
			Where("creator_id = ? AND status = ?", creatorID, domain.ProductStatusActive)
	}

	var kept []snowflake.ID
	if keep > 0 {
		if err := active().Order("created_at ASC, id ASC").Limit(keep).Pluck("id", &kept).Error; err != nil {
			return 0, err
		}
	}

	query := active()
	if len(kept) > 0 {
		query = query.Where("id NOT IN ?", kept)
	}
	res := query.Updates(map[string]any{
		"status":     domain.ProductStatusDraft,
		"is_active":  false,
		"updated_at": at,
	})
	return res.RowsAffected, res.Error
}
