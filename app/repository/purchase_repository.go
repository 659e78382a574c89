package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// purchaseRepository implements the PurchaseRepository interface
type purchaseRepository struct {
	db *gorm.DB
}

// NewPurchaseRepository creates a new purchase repository instance
func NewPurchaseRepository(db *gorm.DB) PurchaseRepository {
	return &purchaseRepository{db: db}
}

func (r *purchaseRepository) Create(ctx context.Context, purchase *models.Purchase) (bool, error) {
	err := r.db.WithContext(ctx).Create(purchase).Error
	if IsDuplicate(err) {
		// Another delivery of the same event, or another event for the same
		// payment, won the insert.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *purchaseRepository) GetByWebhookEventID(ctx context.Context, eventID string) (*models.Purchase, error) {
	var purchase models.Purchase
	if err := r.db.WithContext(ctx).Where("webhook_event_id = ?", eventID).First(&purchase).Error; err != nil {
		return nil, notFound(err)
	}
	return &purchase, nil
}

func (r *purchaseRepository) FindByOrderAndPayment(ctx context.Context, orderID, providerPaymentID string) (*models.Purchase, error) {
	var purchase models.Purchase
	err := r.db.WithContext(ctx).
		Where("order_id = ? AND provider_payment_id = ?", orderID, providerPaymentID).
		First(&purchase).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &purchase, nil
}

func (r *purchaseRepository) ListByOrder(ctx context.Context, orderID string) ([]models.Purchase, error) {
	var purchases []models.Purchase
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at ASC").Find(&purchases).Error
	return purchases, err
}
