package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/creatorpay/internal/invoice/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// InsertPayment reports false when the external payment id is already
// recorded.
func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(payment)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// LockUser takes a row lock on the user so invoice numbering for that user
// is serialized. sqlite has no row locks and relies on its single writer.
func (r *repo) LockUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.UserTagSource, error) {
	var row domain.UserTagSource
	err := db.WithContext(ctx).
		Table("users").
		Select("id, username").
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		Limit(1).
		Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return &row, nil
}

func (r *repo) CountInvoices(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).
		Model(&domain.Invoice{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Create(invoice).Error
}

func (r *repo) ListInvoices(ctx context.Context, db *gorm.DB, userID snowflake.ID) ([]domain.Invoice, error) {
	var items []domain.Invoice
	err := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("issued_at ASC, id ASC").
		Find(&items).Error
	return items, err
}
