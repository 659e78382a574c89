package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentStatusCreated    = "created"
	PaymentStatusAuthorized = "authorized"
	PaymentStatusFailed     = "failed"
	PaymentStatusCaptured   = "captured"
	PaymentStatusRefunded   = "refunded"
)

// Payment is one provider payment attempt for an order. ProviderPaymentID and
// WebhookEventID are unique when set; NULLs do not collide.
type Payment struct {
	ID                 string              `gorm:"type:varchar(36);primaryKey" json:"id"`
	ProviderPaymentID  *string             `gorm:"type:varchar(64);uniqueIndex:ux_payments_provider_payment_id" json:"razorpayPaymentId"`
	ProviderOrderID    string              `gorm:"type:varchar(64);not null;index" json:"razorpayOrderId"`
	OrderID            string              `gorm:"type:varchar(64);not null;index" json:"orderId"`
	Amount             decimal.Decimal     `gorm:"type:decimal(10,2);not null" json:"amount"`
	Currency           string              `gorm:"type:varchar(3);not null;default:'INR'" json:"currency"`
	Status             string              `gorm:"type:varchar(20);not null;default:'created';index" json:"status"`
	Method             string              `gorm:"type:varchar(32)" json:"method"`
	Bank               string              `gorm:"type:varchar(64)" json:"bank,omitempty"`
	Wallet             string              `gorm:"type:varchar(64)" json:"wallet,omitempty"`
	VPA                string              `gorm:"column:vpa;type:varchar(191)" json:"vpa,omitempty"`
	CardID             string              `gorm:"type:varchar(64)" json:"cardId,omitempty"`
	CardLast4          string              `gorm:"column:card_last4;type:varchar(4)" json:"cardLast4,omitempty"`
	CardNetwork        string              `gorm:"type:varchar(32)" json:"cardNetwork,omitempty"`
	CardType           string              `gorm:"type:varchar(32)" json:"cardType,omitempty"`
	AuthorizedAt       *time.Time          `gorm:"type:timestamp;default:null" json:"authorizedAt,omitempty"`
	CapturedAt         *time.Time          `gorm:"type:timestamp;default:null" json:"capturedAt,omitempty"`
	FailedAt           *time.Time          `gorm:"type:timestamp;default:null" json:"failedAt,omitempty"`
	ErrorCode          string              `gorm:"type:varchar(64)" json:"errorCode,omitempty"`
	ErrorDescription   string              `gorm:"type:text" json:"errorDescription,omitempty"`
	ErrorSource        string              `gorm:"type:varchar(64)" json:"errorSource,omitempty"`
	ErrorStep          string              `gorm:"type:varchar(64)" json:"errorStep,omitempty"`
	ErrorReason        string              `gorm:"type:varchar(191)" json:"errorReason,omitempty"`
	WebhookEventID     *string             `gorm:"type:varchar(191);uniqueIndex:ux_payments_webhook_event_id" json:"webhookEventId,omitempty"`
	WebhookEventType   string              `gorm:"type:varchar(64)" json:"webhookEventType,omitempty"`
	LastWebhookPayload datatypes.JSON      `json:"-"`
	International      bool                `gorm:"default:false" json:"international"`
	Fee                decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"fee"`
	Tax                decimal.NullDecimal `gorm:"type:decimal(10,2)" json:"tax"`
	AmountRefunded     decimal.Decimal     `gorm:"type:decimal(10,2);not null;default:0" json:"amountRefunded"`
	Notes              datatypes.JSON      `json:"notes,omitempty"`
	CreatedAt          time.Time           `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt          time.Time           `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// NetAmount is the captured amount minus gateway fee and tax.
func (p *Payment) NetAmount() decimal.NullDecimal {
	if !p.Fee.Valid && !p.Tax.Valid {
		return decimal.NullDecimal{}
	}
	net := p.Amount.Sub(p.Fee.Decimal).Sub(p.Tax.Decimal)
	return decimal.NullDecimal{Decimal: net, Valid: true}
}
