package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *orderRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *orderRepository) FindForEvent(ctx context.Context, providerOrderID, receipt string) (*models.Order, error) {
	if providerOrderID == "" && receipt == "" {
		return nil, ErrNotFound
	}

	query := r.db.WithContext(ctx).Model(&models.Order{})
	switch {
	case providerOrderID != "" && receipt != "":
		query = query.Where("provider_order_id = ? OR order_id = ?", providerOrderID, receipt)
	case providerOrderID != "":
		query = query.Where("provider_order_id = ?", providerOrderID)
	default:
		query = query.Where("order_id = ?", receipt)
	}

	var order models.Order
	if err := query.Order("id ASC").First(&order).Error; err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *orderRepository) FindByAnyID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Where("order_id = ? OR provider_order_id = ?", id, id).
		Order("id ASC").
		First(&order).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &order, nil
}

func (r *orderRepository) TransitionStatus(ctx context.Context, orderID, to string, allowedFrom []string, fields map[string]interface{}) (bool, error) {
	updates := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		updates[k] = v
	}
	updates["payment_status"] = to

	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ? AND payment_status IN ?", orderID, allowedFrom).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *orderRepository) UpdateFields(ctx context.Context, orderID string, fields map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("order_id = ?", orderID).
		Updates(fields).Error
}
