package razorpay

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	ErrMalformedEvent     = errors.New("malformed webhook event")
	ErrMissingPaymentData = errors.New("payment data missing for payment event")
	ErrMissingOrderData   = errors.New("order data missing for order event")
)

// EventType is a provider webhook event name.
type EventType string

const (
	EventPaymentAuthorized EventType = "payment.authorized"
	EventPaymentCaptured   EventType = "payment.captured"
	EventPaymentFailed     EventType = "payment.failed"
	EventOrderPaid         EventType = "order.paid"
	EventRefundCreated     EventType = "refund.created"
	EventRefundProcessed   EventType = "refund.processed"
)

func (t EventType) IsPaymentEvent() bool { return strings.HasPrefix(string(t), "payment.") }
func (t EventType) IsOrderEvent() bool   { return strings.HasPrefix(string(t), "order.") }

// CreatesPurchase reports whether a successful event of this type ends in a
// purchase.
func (t EventType) CreatesPurchase() bool {
	return t == EventPaymentCaptured || t == EventOrderPaid
}

// Envelope is the webhook body as delivered by the gateway.
type Envelope struct {
	Event   *EventHeader `json:"event"`
	Payload struct {
		Payment *struct {
			Entity *PaymentEntity `json:"entity"`
		} `json:"payment,omitempty"`
		Order *struct {
			Entity *OrderEntity `json:"entity"`
		} `json:"order,omitempty"`
	} `json:"payload"`
}

type EventHeader struct {
	ID        string `json:"id"`
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
}

type Card struct {
	ID      string `json:"id,omitempty"`
	Last4   string `json:"last4,omitempty"`
	Network string `json:"network,omitempty"`
	Type    string `json:"type,omitempty"`
}

// PaymentEntity is the payment sub-record. Amounts are in currency subunits.
type PaymentEntity struct {
	ID               string          `json:"id" validate:"required"`
	Amount           int64           `json:"amount" validate:"gte=0"`
	Currency         string          `json:"currency"`
	Status           string          `json:"status"`
	OrderID          string          `json:"order_id"`
	International    bool            `json:"international"`
	Method           string          `json:"method"`
	AmountRefunded   int64           `json:"amount_refunded"`
	Captured         bool            `json:"captured"`
	Description      string          `json:"description,omitempty"`
	CardID           string          `json:"card_id,omitempty"`
	Card             *Card           `json:"card,omitempty"`
	Bank             string          `json:"bank,omitempty"`
	Wallet           string          `json:"wallet,omitempty"`
	VPA              string          `json:"vpa,omitempty"`
	Email            string          `json:"email,omitempty"`
	Contact          string          `json:"contact,omitempty"`
	Notes            json.RawMessage `json:"notes,omitempty"`
	Fee              *int64          `json:"fee,omitempty"`
	Tax              *int64          `json:"tax,omitempty"`
	ErrorCode        string          `json:"error_code,omitempty"`
	ErrorDescription string          `json:"error_description,omitempty"`
	ErrorSource      string          `json:"error_source,omitempty"`
	ErrorStep        string          `json:"error_step,omitempty"`
	ErrorReason      string          `json:"error_reason,omitempty"`
	CreatedAt        int64           `json:"created_at"`
}

// OrderEntity is the order sub-record. Receipt holds the merchant order id.
type OrderEntity struct {
	ID         string          `json:"id" validate:"required"`
	Amount     int64           `json:"amount" validate:"gte=0"`
	AmountPaid int64           `json:"amount_paid"`
	AmountDue  int64           `json:"amount_due"`
	Currency   string          `json:"currency"`
	Receipt    string          `json:"receipt"`
	Status     string          `json:"status"`
	Attempts   int             `json:"attempts"`
	Notes      json.RawMessage `json:"notes,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// Event is the canonical form of a webhook. Invalid events carry the reason in
// Err instead of failing the caller.
type Event struct {
	ID        string
	Type      EventType
	CreatedAt time.Time
	Payment   *PaymentEntity
	Order     *OrderEntity
	IsValid   bool
	Err       error
}

var validate = validator.New()

// ParseEvent decodes and normalizes a raw webhook body.
func ParseEvent(raw []byte) Event {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return invalid(fmt.Errorf("%w: %v", ErrMalformedEvent, err))
	}
	return NormalizeEvent(&env)
}

// NormalizeEvent extracts the canonical event and validates the sub-records
// that its namespace requires.
func NormalizeEvent(env *Envelope) Event {
	if env == nil || env.Event == nil || env.Event.ID == "" || env.Event.Event == "" {
		return invalid(fmt.Errorf("%w: event.id and event.event are required", ErrMalformedEvent))
	}

	ev := Event{
		ID:   env.Event.ID,
		Type: EventType(env.Event.Event),
	}
	if env.Event.CreatedAt > 0 {
		ev.CreatedAt = time.Unix(env.Event.CreatedAt, 0).UTC()
	}
	if env.Payload.Payment != nil {
		ev.Payment = env.Payload.Payment.Entity
	}
	if env.Payload.Order != nil {
		ev.Order = env.Payload.Order.Entity
	}

	if ev.Type.IsPaymentEvent() {
		if ev.Payment == nil {
			return withErr(ev, fmt.Errorf("%w: %s", ErrMissingPaymentData, ev.Type))
		}
		if err := validate.Struct(ev.Payment); err != nil {
			return withErr(ev, fmt.Errorf("%w: %v", ErrMissingPaymentData, err))
		}
	}
	if ev.Type.IsOrderEvent() {
		if ev.Order == nil {
			return withErr(ev, fmt.Errorf("%w: %s", ErrMissingOrderData, ev.Type))
		}
		if err := validate.Struct(ev.Order); err != nil {
			return withErr(ev, fmt.Errorf("%w: %v", ErrMissingOrderData, err))
		}
	}

	ev.IsValid = true
	return ev
}

// ProviderOrderID is the gateway order id the event refers to.
func (e *Event) ProviderOrderID() string {
	if e.Payment != nil && e.Payment.OrderID != "" {
		return e.Payment.OrderID
	}
	if e.Order != nil {
		return e.Order.ID
	}
	return ""
}

// Receipt is the merchant order id when the event carries an order entity.
func (e *Event) Receipt() string {
	if e.Order != nil {
		return e.Order.Receipt
	}
	return ""
}

func invalid(err error) Event {
	return Event{Err: err}
}

func withErr(ev Event, err error) Event {
	ev.IsValid = false
	ev.Err = err
	return ev
}
