// Package domain holds the plan catalog and the entitlement snapshot kept on
// user rows.
package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const TierFree = "free"

const (
	ProductStatusActive = "active"
	ProductStatusDraft  = "draft"
)

// PlanLimits is the feature allowance copied onto a user whenever their tier
// changes.
type PlanLimits struct {
	MaxProducts       int  `json:"maxProducts"`
	MaxStorageMb      int  `json:"maxStorageMb"`
	MaxTeamMembers    int  `json:"maxTeamMembers"`
	MaxAiGenerations  int  `json:"maxAiGenerations"`
	CustomDomain      bool `json:"customDomain"`
	CanRemoveBranding bool `json:"canRemoveBranding"`
}

type Plan struct {
	ID              snowflake.ID                   `gorm:"primaryKey"`
	Name            string                         `gorm:"type:varchar(191);not null"`
	Tier            string                         `gorm:"type:varchar(32);not null"`
	ExternalPlanID  *string                        `gorm:"type:varchar(191)"`
	Limits          datatypes.JSONType[PlanLimits] `gorm:"type:text;not null"`
	PriceAmount     int64                          `gorm:"not null"`
	Currency        string                         `gorm:"type:varchar(8);not null"`
	BillingInterval string                         `gorm:"type:varchar(16);not null"`
	CreatedAt       time.Time                      `gorm:"not null"`
	UpdatedAt       time.Time                      `gorm:"not null"`
}

func (Plan) TableName() string { return "plans" }

// User is the account row as far as entitlement is concerned.
type User struct {
	ID                   snowflake.ID  `gorm:"primaryKey"`
	Username             *string       `gorm:"type:varchar(191)"`
	Email                string        `gorm:"type:varchar(191);not null"`
	SubscriptionTier     string        `gorm:"type:varchar(32);not null"`
	SubscriptionStatus   *string       `gorm:"type:varchar(32)"`
	SubscriptionEndAt    *time.Time    `gorm:""`
	PlanLimits           *string       `gorm:"type:text"`
	TrialUsed            bool          `gorm:"not null"`
	ActiveSubscriptionID *snowflake.ID `gorm:""`
	CreatedAt            time.Time     `gorm:"not null"`
	UpdatedAt            time.Time     `gorm:"not null"`
}

func (User) TableName() string { return "users" }

// Limits decodes the cached snapshot. ok is false when nothing is cached.
func (u User) Limits() (PlanLimits, bool) {
	if u.PlanLimits == nil || strings.TrimSpace(*u.PlanLimits) == "" {
		return PlanLimits{}, false
	}
	var limits PlanLimits
	if err := json.Unmarshal([]byte(*u.PlanLimits), &limits); err != nil {
		return PlanLimits{}, false
	}
	return limits, true
}

func (u User) Status() string {
	if u.SubscriptionStatus == nil {
		return ""
	}
	return *u.SubscriptionStatus
}

// Target identifies whose snapshot to rewrite and the subscription state it
// must reflect.
type Target struct {
	UserID         snowflake.ID
	SubscriptionID snowflake.ID
	PlanID         snowflake.ID
	Status         string
	EndAt          *time.Time
	// TrimProducts deactivates the user's oldest-first products beyond the
	// free allowance on downgrade.
	TrimProducts bool
}

// UserUpdate lists the snapshot columns a resolver may rewrite. Nil fields
// are left untouched.
type UserUpdate struct {
	Tier                 *string
	Limits               *PlanLimits
	Status               *string
	EndAt                *time.Time
	ClearEndAt           bool
	ActiveSubscriptionID *snowflake.ID
	TrialUsed            *bool
	UpdatedAt            time.Time
}

type Repository interface {
	FindPlan(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindPlanByTier(ctx context.Context, db *gorm.DB, tier string) (*Plan, error)
	FindUser(ctx context.Context, db *gorm.DB, id snowflake.ID) (*User, error)
	UpdateUser(ctx context.Context, db *gorm.DB, id snowflake.ID, update UserUpdate) (bool, error)
	ListExpiredTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]User, error)
	// DeactivateExcessProducts keeps the creator's first keep active products
	// by creation time and drafts the rest. It returns how many were drafted.
	DeactivateExcessProducts(ctx context.Context, db *gorm.DB, creatorID snowflake.ID, keep int, at time.Time) (int64, error)
}

// Resolver rewrites user entitlement snapshots. Every method runs against
// the handle it is given so callers keep it inside their transaction.
type Resolver interface {
	Refresh(ctx context.Context, tx *gorm.DB, target Target, reason string) error
	Downgrade(ctx context.Context, tx *gorm.DB, target Target, reason string) error
	SyncStatus(ctx context.Context, tx *gorm.DB, target Target) error
	MarkTrialUsed(ctx context.Context, tx *gorm.DB, userID snowflake.ID) error
	FindUser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*User, error)
	FreeLimits(ctx context.Context, tx *gorm.DB) (PlanLimits, error)
}
