package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusAuthorized = "authorized"
	OrderStatusCompleted  = "completed"
	OrderStatusFailed     = "failed"
	OrderStatusCaptured   = "captured"
	OrderStatusRefunded   = "refunded"
)

// Order is a checkout order keyed by the merchant-assigned order id. Only
// payment status transitions mutate it after creation.
type Order struct {
	ID                 uint            `gorm:"primaryKey" json:"id"`
	OrderID            string          `gorm:"type:varchar(64);not null;uniqueIndex:ux_orders_order_id" json:"orderId"`
	Amount             decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency           string          `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	CustomerName       string          `gorm:"type:varchar(191);not null" json:"customerName"`
	CustomerEmail      string          `gorm:"type:varchar(191);not null;index" json:"customerEmail"`
	CustomerPhone      string          `gorm:"type:varchar(20);not null" json:"customerPhone"`
	Items              datatypes.JSON  `json:"items"`
	ShippingAddress    datatypes.JSON  `json:"shippingAddress"`
	PaymentID          string          `gorm:"type:varchar(64);index" json:"paymentId"`
	ProviderOrderID    string          `gorm:"type:varchar(64);index" json:"razorpayOrderId"`
	PaymentStatus      string          `gorm:"type:varchar(20);not null;default:'pending';index" json:"paymentStatus"`
	PaymentMethod      string          `gorm:"type:varchar(32)" json:"paymentMethod"`
	PaymentCapturedAt  *time.Time      `gorm:"type:timestamp;default:null" json:"paymentCapturedAt,omitempty"`
	WebhookEventID     string          `gorm:"type:varchar(191);index" json:"webhookEventId"`
	LastWebhookPayload datatypes.JSON  `json:"lastWebhookPayload,omitempty"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updatedAt"`
}

// IsTerminalSuccess reports whether the order already reached a paid state.
func (o *Order) IsTerminalSuccess() bool {
	switch o.PaymentStatus {
	case OrderStatusCompleted, OrderStatusCaptured, OrderStatusRefunded:
		return true
	}
	return false
}
