package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

const (
	defaultLogLimit = 50
	maxLogLimit     = 500
)

// paymentLogRepository implements the PaymentLogRepository interface
type paymentLogRepository struct {
	db *gorm.DB
}

// NewPaymentLogRepository creates a new payment log repository instance
func NewPaymentLogRepository(db *gorm.DB) PaymentLogRepository {
	return &paymentLogRepository{db: db}
}

func (r *paymentLogRepository) Create(ctx context.Context, entry *models.PaymentLog) (bool, error) {
	err := r.db.WithContext(ctx).Create(entry).Error
	if IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *paymentLogRepository) ExistsByWebhookEventID(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentLog{}).Where("webhook_event_id = ?", eventID).Count(&count).Error
	return count > 0, err
}

// List returns one page of matching entries, newest first, and the total
// number of matches.
func (r *paymentLogRepository) List(ctx context.Context, filter PaymentLogFilter) ([]models.PaymentLog, int64, error) {
	var total int64
	if err := r.filtered(ctx, filter).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	var entries []models.PaymentLog
	err := r.filtered(ctx, filter).Order("created_at DESC").Offset(offset).Limit(limit).Find(&entries).Error
	return entries, total, err
}

func (r *paymentLogRepository) filtered(ctx context.Context, filter PaymentLogFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.PaymentLog{})
	if filter.OrderID != "" {
		query = query.Where("order_id = ?", filter.OrderID)
	}
	if filter.PaymentID != "" {
		query = query.Where("payment_id = ? OR provider_payment_id = ?", filter.PaymentID, filter.PaymentID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.Method != "" {
		query = query.Where("method = ?", filter.Method)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Source != "" {
		query = query.Where("source = ?", filter.Source)
	}
	if filter.StartDate != nil {
		query = query.Where("created_at >= ?", *filter.StartDate)
	}
	if filter.EndDate != nil {
		query = query.Where("created_at <= ?", *filter.EndDate)
	}
	return query
}
