package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	FulfillmentStatusPending    = "pending"
	FulfillmentStatusProcessing = "processing"
	FulfillmentStatusShipped    = "shipped"
	FulfillmentStatusDelivered  = "delivered"
	FulfillmentStatusCancelled  = "cancelled"
)

// Purchase is the snapshot taken once a payment is captured. WebhookEventID is
// the idempotency key for its creation; an order and gateway payment pair
// yields at most one purchase.
type Purchase struct {
	ID                string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID           string              `gorm:"type:varchar(64);not null;uniqueIndex:ux_purchases_order_payment,priority:1" json:"orderId"`
	ProviderOrderID   string              `gorm:"type:varchar(64);not null;index" json:"razorpayOrderId"`
	ProviderPaymentID string              `gorm:"type:varchar(64);not null;uniqueIndex:ux_purchases_order_payment,priority:2" json:"razorpayPaymentId"`
	CustomerName      string              `gorm:"type:varchar(191);not null" json:"customerName"`
	CustomerEmail     string              `gorm:"type:varchar(191);not null;index" json:"customerEmail"`
	CustomerPhone     string              `gorm:"type:varchar(20);not null" json:"customerPhone"`
	Items             datatypes.JSON      `json:"items"`
	Amount            decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency          string              `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	PaymentMethod     string              `gorm:"type:varchar(32)" json:"paymentMethod"`
	PaymentStatus     string              `gorm:"type:varchar(20);not null;default:'captured'" json:"paymentStatus"`
	ShippingAddress   datatypes.JSON      `json:"shippingAddress"`
	PaymentFee        decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"paymentFee"`
	PaymentTax        decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"paymentTax"`
	NetAmount         decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"netAmount"`
	WebhookEventID    string              `gorm:"type:varchar(191);not null;uniqueIndex:ux_purchases_webhook_event_id" json:"webhookEventId"`
	WebhookEventType  string              `gorm:"type:varchar(64);not null" json:"webhookEventType"`
	VerifiedAt        time.Time           `gorm:"type:timestamp;not null" json:"verifiedAt"`
	PaymentNotes      datatypes.JSON      `json:"paymentNotes,omitempty"`
	FulfillmentStatus string              `gorm:"type:varchar(20);not null;default:'pending'" json:"fulfillmentStatus"`
	FulfillmentNotes  string              `gorm:"type:text" json:"fulfillmentNotes,omitempty"`
	CreatedAt         time.Time           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time           `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (p *Purchase) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.VerifiedAt.IsZero() {
		p.VerifiedAt = time.Now()
	}
	return nil
}
