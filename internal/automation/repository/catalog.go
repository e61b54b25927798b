package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/automation/domain"
	"gorm.io/gorm"
)

type catalog struct{}

func NewCatalog() domain.CatalogRepository {
	return &catalog{}
}

func (c *catalog) FindProduct(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).Where("id = ?", id).Take(&product).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

// FindActiveChannel returns the most recently updated active channel for a
// creator.
func (c *catalog) FindActiveChannel(ctx context.Context, db *gorm.DB, creatorID snowflake.ID) (*domain.CreatorChannel, error) {
	var channel domain.CreatorChannel
	err := db.WithContext(ctx).
		Where("creator_id = ? AND status = ?", creatorID, domain.ChannelStatusActive).
		Order("updated_at DESC, id DESC").
		Take(&channel).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &channel, nil
}
