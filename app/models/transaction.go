package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TransactionPurchaseCreated  = "PURCHASE_CREATED"
	TransactionPaymentCompleted = "PAYMENT_COMPLETED_MANUALLY"
)

const (
	TransactionSourceWebhook = "webhook"
	TransactionSourceManual  = "manual"
)

// Transaction is an append-only audit entry. The (source_event_id, event_type)
// pair is unique so a redelivered event cannot write the same entry twice.
type Transaction struct {
	ID               string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	OrderID          string              `gorm:"type:varchar(64);not null;index:idx_transactions_order_timestamp,priority:1" json:"orderId"`
	ProviderOrderID  string              `gorm:"type:varchar(64);index" json:"razorpayOrderId"`
	PaymentID        string              `gorm:"type:varchar(64);index" json:"paymentId"`
	EventType        string              `gorm:"type:varchar(64);not null;index;uniqueIndex:ux_transactions_source_event,priority:2" json:"eventType"`
	Amount           decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency         string              `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	Method           string              `gorm:"type:varchar(32)" json:"method,omitempty"`
	Bank             string              `gorm:"type:varchar(64)" json:"bank,omitempty"`
	Wallet           string              `gorm:"type:varchar(64)" json:"wallet,omitempty"`
	VPA              string              `gorm:"column:vpa;type:varchar(191)" json:"vpa,omitempty"`
	Status           string              `gorm:"type:varchar(20);not null;index" json:"status"`
	PreviousStatus   string              `gorm:"type:varchar(20)" json:"previousStatus,omitempty"`
	Timestamp        time.Time           `gorm:"type:timestamp;not null;index:idx_transactions_order_timestamp,priority:2" json:"timestamp"`
	Fee              decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"fee"`
	Tax              decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"tax"`
	NetAmount        decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"netAmount"`
	Source           string              `gorm:"type:varchar(20);not null;default:'webhook';index" json:"source"`
	SourceEventID    *string             `gorm:"type:varchar(191);uniqueIndex:ux_transactions_source_event,priority:1" json:"sourceEventId,omitempty"`
	Metadata         datatypes.JSON      `json:"metadata,omitempty"`
	ErrorCode        string              `gorm:"type:varchar(64)" json:"errorCode,omitempty"`
	ErrorDescription string              `gorm:"type:text" json:"errorDescription,omitempty"`
	Reconciled       bool                `gorm:"default:false;index" json:"reconciled"`
	ReconciledAt     *time.Time          `gorm:"type:timestamp;default:null" json:"reconciledAt,omitempty"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now()
	}
	return nil
}
