package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	entitlementdomain "github.com/smallbiznis/creatorpay/internal/entitlement/domain"
	orderdomain "github.com/smallbiznis/creatorpay/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() orderdomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, order *orderdomain.Order, items []orderdomain.OrderItem) error {
	if order == nil || order.ID == 0 || order.ExternalOrderID == "" {
		return orderdomain.ErrInvalidOrder
	}
	if err := db.WithContext(ctx).Create(order).Error; err != nil {
		return err
	}
	if len(items) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&items).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*orderdomain.Order, error) {
	return r.findOne(db.WithContext(ctx).Where("id = ?", id))
}

func (r *repo) FindByExternalOrderID(ctx context.Context, db *gorm.DB, externalOrderID string) (*orderdomain.Order, error) {
	return r.findOne(db.WithContext(ctx).Where("external_order_id = ?", externalOrderID))
}

func (r *repo) FindByExternalPaymentID(ctx context.Context, db *gorm.DB, externalPaymentID string) (*orderdomain.Order, error) {
	return r.findOne(db.WithContext(ctx).Where("external_payment_id = ?", externalPaymentID))
}

func (r *repo) findOne(query *gorm.DB) (*orderdomain.Order, error) {
	var order orderdomain.Order
	if err := query.Take(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]orderdomain.OrderItem, error) {
	var items []orderdomain.OrderItem
	err := db.WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&items).Error
	return items, err
}

func (r *repo) ListTransactions(ctx context.Context, db *gorm.DB, orderID snowflake.ID) ([]orderdomain.Transaction, error) {
	var txns []orderdomain.Transaction
	err := db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC, id ASC").Find(&txns).Error
	return txns, err
}

// MarkCaptured completes a pending or previously failed order. A refunded
// order is never resurrected.
func (r *repo) MarkCaptured(ctx context.Context, db *gorm.DB, id snowflake.ID, externalPaymentID string, paidAt time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("id = ? AND status IN ?", id, []orderdomain.Status{orderdomain.StatusPending, orderdomain.StatusFailed}).
		Updates(map[string]any{
			"status":              orderdomain.StatusCompleted,
			"payment_status":      orderdomain.PaymentStatusPaid,
			"external_payment_id": externalPaymentID,
			"paid_at":             paidAt,
			"failure_reason":      nil,
			"updated_at":          paidAt,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repo) MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, at time.Time) (bool, error) {
	// Only pending orders fail. A failure reported after a capture or refund
	// is a stale attempt and must not reopen the order.
	result := db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("id = ? AND status = ?", id, orderdomain.StatusPending).
		Updates(map[string]any{
			"status":         orderdomain.StatusFailed,
			"payment_status": orderdomain.PaymentStatusFailed,
			"failure_reason": reason,
			"updated_at":     at,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, id snowflake.ID, update orderdomain.RefundUpdate) (bool, error) {
	result := db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("id = ? AND status <> ?", id, orderdomain.StatusRefunded).
		Updates(map[string]any{
			"status":         orderdomain.StatusRefunded,
			"payment_status": update.PaymentStatus,
			"refund_status":  update.RefundStatus,
			"refund_amount":  update.Amount,
			"refunded_at":    update.RefundedAt,
			"updated_at":     update.RefundedAt,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repo) InsertTransaction(ctx context.Context, db *gorm.DB, txn *orderdomain.Transaction) error {
	return db.WithContext(ctx).Create(txn).Error
}

// IncrementFreeTierOrders bumps the creator's lifetime order counter while
// they are on the free tier. It reports false for paid creators.
func (r *repo) IncrementFreeTierOrders(ctx context.Context, db *gorm.DB, creatorID snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Table("users").
		Where("id = ? AND subscription_tier = ?", creatorID, entitlementdomain.TierFree).
		Updates(map[string]any{
			"free_tier_orders_count": gorm.Expr("free_tier_orders_count + 1"),
			"updated_at":             at,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *repo) IncrementCouponUsage(ctx context.Context, db *gorm.DB, couponID snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).
		Table("coupons").
		Where("id = ?", couponID).
		Updates(map[string]any{
			"used_count": gorm.Expr("used_count + 1"),
			"updated_at": at,
		})
	return result.RowsAffected > 0, result.Error
}

// FindActiveAffiliate scopes the lookup to the order's creator when known,
// so an order cannot credit another creator's affiliate.
func (r *repo) FindActiveAffiliate(ctx context.Context, db *gorm.DB, affiliateID snowflake.ID, creatorID *snowflake.ID) (*orderdomain.Affiliate, error) {
	query := db.WithContext(ctx).Where("id = ? AND status = ?", affiliateID, orderdomain.AffiliateStatusActive)
	if creatorID != nil {
		query = query.Where("creator_id = ?", *creatorID)
	}

	var affiliate orderdomain.Affiliate
	if err := query.Take(&affiliate).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &affiliate, nil
}

func (r *repo) RecordCommission(ctx context.Context, db *gorm.DB, orderID, affiliateID snowflake.ID, amount int64, at time.Time) error {
	err := db.WithContext(ctx).
		Model(&orderdomain.Order{}).
		Where("id = ?", orderID).
		Updates(map[string]any{
			"commission_amount": amount,
			"updated_at":        at,
		}).Error
	if err != nil {
		return err
	}
	return db.WithContext(ctx).
		Model(&orderdomain.Affiliate{}).
		Where("id = ?", affiliateID).
		Updates(map[string]any{
			"total_sales":      gorm.Expr("total_sales + 1"),
			"total_commission": gorm.Expr("total_commission + ?", amount),
			"updated_at":       at,
		}).Error
}
