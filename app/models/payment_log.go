package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// Payment log statuses.
const (
	LogStatusCreated    = "created"
	LogStatusPending    = "pending"
	LogStatusAuthorized = "authorized"
	LogStatusCaptured   = "captured"
	LogStatusPaid       = "paid"
	LogStatusFailed     = "failed"
	LogStatusCancelled  = "cancelled"
	LogStatusRefunded   = "refunded"
)

// Payment log event types.
const (
	LogEventOrderCreated      = "order_created"
	LogEventPaymentAuthorized = "payment_authorized"
	LogEventPaymentCaptured   = "payment_captured"
	LogEventPaymentFailed     = "payment_failed"
	LogEventRefundProcessed   = "refund_processed"
	LogEventWebhookReceived   = "webhook_received"
	LogEventStatusUpdated     = "status_updated"
	LogEventClientVerified    = "client_verified"
)

// Payment log sources.
const (
	LogSourceAPI     = "api"
	LogSourceWebhook = "webhook"
	LogSourceManual  = "manual"
	LogSourceSystem  = "system"
)

// PaymentLog is the reporting trail of everything that happened to a payment.
// Amount is kept in subunits; AmountDisplay is derived on save.
type PaymentLog struct {
	ID                string          `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID           string          `gorm:"type:varchar(64);not null;index;index:idx_payment_logs_order_status,priority:1" json:"order_id"`
	PaymentID         string          `gorm:"type:varchar(64);index" json:"payment_id,omitempty"`
	ProviderOrderID   string          `gorm:"type:varchar(64);index" json:"razorpay_order_id,omitempty"`
	ProviderPaymentID string          `gorm:"type:varchar(64);index" json:"razorpay_payment_id,omitempty"`
	Status            string          `gorm:"type:varchar(20);not null;index;index:idx_payment_logs_order_status,priority:2" json:"status"`
	PreviousStatus    string          `gorm:"type:varchar(20)" json:"previous_status,omitempty"`
	Amount            int64           `gorm:"not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	AmountDisplay     decimal.Decimal `gorm:"type:decimal(15,2)" json:"amount_display"`
	Method            string          `gorm:"type:varchar(32);index" json:"method,omitempty"`
	MethodDetails     datatypes.JSON  `json:"method_details,omitempty"`
	ResponseData      datatypes.JSON  `json:"response_data,omitempty"`
	WebhookEventID    *string         `gorm:"type:varchar(191);uniqueIndex:ux_payment_logs_webhook_event_id" json:"webhook_event_id,omitempty"`
	WebhookEventType  string          `gorm:"type:varchar(64)" json:"webhook_event_type,omitempty"`
	CustomerName      string          `gorm:"type:varchar(191)" json:"customer_name,omitempty"`
	CustomerEmail     string          `gorm:"type:varchar(191);index" json:"customer_email,omitempty"`
	CustomerPhone     string          `gorm:"type:varchar(20)" json:"customer_phone,omitempty"`
	ErrorCode         string          `gorm:"type:varchar(64)" json:"error_code,omitempty"`
	ErrorDescription  string          `gorm:"type:text" json:"error_description,omitempty"`
	Fee               *int64          `json:"fee,omitempty"`
	Tax               *int64          `json:"tax,omitempty"`
	EventType         string          `gorm:"type:varchar(32);not null;index" json:"event_type"`
	Source            string          `gorm:"type:varchar(16);not null;default:'api';index" json:"source"`
	IPAddress         string          `gorm:"column:ip_address;type:varchar(64)" json:"ip_address,omitempty"`
	UserAgent         string          `gorm:"type:text" json:"user_agent,omitempty"`
	Metadata          datatypes.JSON  `json:"metadata,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (l *PaymentLog) BeforeCreate(tx *gorm.DB) error {
	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	l.AmountDisplay = money.FromSubunits(l.Amount)
	return nil
}

func (l *PaymentLog) BeforeUpdate(tx *gorm.DB) error {
	l.AmountDisplay = money.FromSubunits(l.Amount)
	return nil
}

