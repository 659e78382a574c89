package realtime

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Message types exchanged over the websocket.
const (
	MessageJoinOrder           = "join-order"
	MessageLeaveOrder          = "leave-order"
	MessagePing                = "ping"
	MessagePong                = "pong"
	MessageJoinedOrder         = "joined-order"
	MessageLeftOrder           = "left-order"
	MessagePaymentStatusUpdate = "payment-status-update"
	MessageOrderUpdate         = "order-update"
	MessageError               = "error"
)

// Broadcast kinds.
const (
	KindPaymentStatus = "payment-status"
	KindOrderStatus   = "order-status"
)

// OrderUpdate is the state snapshot sent to subscribers of an order.
type OrderUpdate struct {
	OrderID         string          `json:"orderId"`
	PaymentStatus   string          `json:"paymentStatus"`
	PaymentID       string          `json:"paymentId,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method,omitempty"`
	CustomerName    string          `json:"customerName,omitempty"`
	Error           string          `json:"error,omitempty"`
	PurchaseCreated bool            `json:"purchaseCreated,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// Broadcast is one state change addressed to the subscribers of
// Update.OrderID. It is also the unit carried over Redis pub/sub.
type Broadcast struct {
	Kind   string      `json:"kind"`
	Update OrderUpdate `json:"update"`
	At     time.Time   `json:"at"`
}

// PaymentStatusUpdate is the payload of a payment-status-update message.
type PaymentStatusUpdate struct {
	OrderID   string          `json:"orderId"`
	Status    string          `json:"status"`
	PaymentID string          `json:"paymentId,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Timestamp time.Time       `json:"timestamp"`
	Data      OrderUpdate     `json:"data"`
}

// OrderUpdateEvent is the payload of an order-update message.
type OrderUpdateEvent struct {
	Type      string      `json:"type"`
	OrderID   string      `json:"orderId"`
	Data      OrderUpdate `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// JoinAck acknowledges a join-order or leave-order request.
type JoinAck struct {
	OrderID string `json:"orderId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Inbound is a message sent by a websocket client.
type Inbound struct {
	Type    string `json:"type"`
	OrderID string `json:"orderId,omitempty"`
}

// Outbound is the frame written to a websocket client.
type Outbound struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

func encode(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Outbound{Type: msgType, Data: data})
}

// frames renders the websocket frames a broadcast produces. Payment status
// changes also emit an order-update companion frame.
func (b Broadcast) frames() ([][]byte, error) {
	at := b.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	var out [][]byte
	if b.Kind == KindPaymentStatus {
		frame, err := encode(MessagePaymentStatusUpdate, PaymentStatusUpdate{
			OrderID:   b.Update.OrderID,
			Status:    b.Update.PaymentStatus,
			PaymentID: b.Update.PaymentID,
			Amount:    b.Update.Amount,
			Timestamp: at,
			Data:      b.Update,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, frame)
	}

	kind := b.Kind
	if kind == "" {
		kind = KindOrderStatus
	}
	frame, err := encode(MessageOrderUpdate, OrderUpdateEvent{
		Type:      kind,
		OrderID:   b.Update.OrderID,
		Data:      b.Update,
		Timestamp: at,
	})
	if err != nil {
		return nil, err
	}
	return append(out, frame), nil
}
