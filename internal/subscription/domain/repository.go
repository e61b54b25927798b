package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByExternalID(ctx context.Context, db *gorm.DB, externalID string) (*Subscription, error)
	// UpdateVersioned writes every mutable column when the stored version
	// still equals expected. ok is false when another writer got there first.
	UpdateVersioned(ctx context.Context, db *gorm.DB, subscription *Subscription, expected int64) (ok bool, err error)
}

var (
	ErrVersionConflict     = errors.New("subscription_version_conflict")
	ErrInvalidSubscription = errors.New("invalid_subscription")
)
