// Package domain describes the automation jobs handed to the external queue
// worker and the catalog data used to decide which jobs to enqueue.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type JobType string

const (
	JobTypeDMDelivery        JobType = "dm_delivery"
	JobTypeOneOffEmail       JobType = "one_off_email"
	JobTypeDigitalDelivery   JobType = "digital_delivery"
	JobTypeDigitalRevocation JobType = "digital_revocation"
	JobTypeDunningNotice     JobType = "dunning_notice"
)

type JobStatus string

const JobStatusPending JobStatus = "pending"

const (
	defaultMaxAttempts = 3

	ChannelStatusActive = "active"
)

// QueueJob is consumed by the worker process; this service only inserts.
type QueueJob struct {
	ID          snowflake.ID   `gorm:"primaryKey"`
	Type        JobType        `gorm:"type:varchar(64);not null"`
	Payload     datatypes.JSON `gorm:"type:text;not null"`
	Status      JobStatus      `gorm:"type:varchar(16);not null"`
	Attempts    int            `gorm:"not null"`
	MaxAttempts int            `gorm:"not null"`
	DedupeKey   *string        `gorm:"type:varchar(191);uniqueIndex"`
	NextRunAt   *time.Time     `gorm:""`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (QueueJob) TableName() string { return "queue_jobs" }

// DefaultMaxAttempts is the retry budget given to the worker for new jobs.
func DefaultMaxAttempts() int { return defaultMaxAttempts }

// Product carries the post-purchase automation settings.
type Product struct {
	ID                        snowflake.ID `gorm:"primaryKey"`
	CreatorID                 snowflake.ID `gorm:"not null"`
	Name                      string       `gorm:"type:varchar(191);not null"`
	PostPurchaseDMTemplate    *string      `gorm:"column:post_purchase_dm_template;type:text"`
	PostPurchaseEmailTemplate *string      `gorm:"type:text"`
	CreatedAt                 time.Time    `gorm:"not null"`
	UpdatedAt                 time.Time    `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (p Product) DMTemplate() string {
	if p.PostPurchaseDMTemplate == nil {
		return ""
	}
	return *p.PostPurchaseDMTemplate
}

func (p Product) EmailTemplate() string {
	if p.PostPurchaseEmailTemplate == nil {
		return ""
	}
	return *p.PostPurchaseEmailTemplate
}

// CreatorChannel is a connected messaging account with an encrypted access
// token.
type CreatorChannel struct {
	ID             snowflake.ID `gorm:"primaryKey"`
	CreatorID      snowflake.ID `gorm:"not null"`
	Channel        string       `gorm:"type:varchar(32);not null"`
	Status         string       `gorm:"type:varchar(16);not null"`
	EncryptedToken string       `gorm:"type:text;not null"`
	TokenIV        string       `gorm:"column:token_iv;type:varchar(64);not null"`
	TokenTag       string       `gorm:"type:varchar(64);not null"`
	KeyVersion     int          `gorm:"not null"`
	CreatedAt      time.Time    `gorm:"not null"`
	UpdatedAt      time.Time    `gorm:"not null"`
}

func (CreatorChannel) TableName() string { return "creator_channels" }

// EncryptedToken is the stored form of a channel credential. All byte fields
// are hex encoded.
type EncryptedToken struct {
	Ciphertext string
	IV         string
	Tag        string
	KeyVersion int
}

func (c CreatorChannel) Token() EncryptedToken {
	return EncryptedToken{
		Ciphertext: c.EncryptedToken,
		IV:         c.TokenIV,
		Tag:        c.TokenTag,
		KeyVersion: c.KeyVersion,
	}
}
