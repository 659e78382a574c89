package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// transactionRepository implements the TransactionRepository interface
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new transaction repository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) (bool, error) {
	err := r.db.WithContext(ctx).Create(tx).Error
	if IsDuplicate(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListByOrder returns the audit trail of an order, oldest first.
func (r *transactionRepository) ListByOrder(ctx context.Context, orderID string) ([]models.Transaction, error) {
	var txs []models.Transaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("timestamp ASC").
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) CountBySourceEvent(ctx context.Context, sourceEventID, eventType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("source_event_id = ? AND event_type = ?", sourceEventID, eventType).
		Count(&count).Error
	return count, err
}
