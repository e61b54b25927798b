package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

//go:generate mockgen -destination=../mocks/mock_domain.go -package=mocks github.com/smallbiznis/creatorpay/internal/automation/domain Enqueuer,Fulfiller,TokenDecrypter

// Enqueuer inserts jobs into the shared queue table. created is false when a
// job with the same dedupe key already exists.
type Enqueuer interface {
	Enqueue(ctx context.Context, db *gorm.DB, req EnqueueRequest) (created bool, err error)
}

// Fulfiller delivers or revokes digital goods for an order. Both calls must
// be safe to repeat.
type Fulfiller interface {
	FulfillOrder(ctx context.Context, orderID snowflake.ID) error
	RevokeOrder(ctx context.Context, orderID snowflake.ID, reason string) error
}

// TokenDecrypter turns a stored channel credential into a usable token.
type TokenDecrypter interface {
	Decrypt(token EncryptedToken) (string, error)
}

// Dispatcher fans a new capture out into post-purchase jobs. Failures are
// logged and counted, never returned.
type Dispatcher interface {
	DispatchCapture(ctx context.Context, capture CaptureContext) DispatchReport
}

// DunningEnqueuer records a dunning notice inside the caller's transaction.
type DunningEnqueuer interface {
	EnqueueDunning(ctx context.Context, tx *gorm.DB, notice DunningNotice) error
}

type CatalogRepository interface {
	FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	FindActiveChannel(ctx context.Context, db *gorm.DB, creatorID snowflake.ID) (*CreatorChannel, error)
}

var (
	ErrInvalidJob         = errors.New("invalid_job")
	ErrKeyringEmpty       = errors.New("channel_keyring_empty")
	ErrUnknownKeyVersion  = errors.New("unknown_key_version")
	ErrTokenCorrupt       = errors.New("channel_token_corrupt")
	ErrChannelUnavailable = errors.New("channel_unavailable")
)
