package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
)

type recordingPublisher struct {
	mu         sync.Mutex
	broadcasts []realtime.Broadcast
}

func (p *recordingPublisher) Publish(_ context.Context, b realtime.Broadcast) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, b)
	return nil
}

func (p *recordingPublisher) all() []realtime.Broadcast {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]realtime.Broadcast(nil), p.broadcasts...)
}

type recordingNotifier struct {
	mu        sync.Mutex
	purchases []string
}

func (n *recordingNotifier) PurchaseCreated(_ context.Context, p *models.Purchase) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.purchases = append(n.purchases, p.ID)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.purchases)
}

// flakyOrders fails TransitionStatus a fixed number of times.
type flakyOrders struct {
	repository.OrderRepository
	mu       sync.Mutex
	failures int
}

var errStoreUnavailable = errors.New("store unavailable")

func (f *flakyOrders) TransitionStatus(ctx context.Context, orderID, to string, allowedFrom []string, fields map[string]interface{}) (bool, error) {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return false, errStoreUnavailable
	}
	f.mu.Unlock()
	return f.OrderRepository.TransitionStatus(ctx, orderID, to, allowedFrom, fields)
}

// lateLookupPurchases misses the first order/payment lookup, as if a
// concurrent event inserted its purchase right after the check.
type lateLookupPurchases struct {
	repository.PurchaseRepository
	mu     sync.Mutex
	missed bool
}

func (p *lateLookupPurchases) FindByOrderAndPayment(ctx context.Context, orderID, providerPaymentID string) (*models.Purchase, error) {
	p.mu.Lock()
	if !p.missed {
		p.missed = true
		p.mu.Unlock()
		return nil, repository.ErrNotFound
	}
	p.mu.Unlock()
	return p.PurchaseRepository.FindByOrderAndPayment(ctx, orderID, providerPaymentID)
}

type fixture struct {
	repos     *repository.Repositories
	publisher *recordingPublisher
	notifier  *recordingNotifier
	svc       *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repos := repository.NewRepositories(dbtest.Open(t))
	publisher := &recordingPublisher{}
	notifier := &recordingNotifier{}
	return &fixture{
		repos:     repos,
		publisher: publisher,
		notifier:  notifier,
		svc:       NewService(repos, publisher, notifier),
	}
}

// seedOrder creates ORD123 (order_123) for 500.00 INR.
func (f *fixture) seedOrder(t *testing.T) *models.Order {
	t.Helper()
	order := &models.Order{
		OrderID:         "ORD123",
		Amount:          decimal.RequireFromString("500.00"),
		Currency:        "INR",
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		CustomerPhone:   "9876543210",
		Items:           datatypes.JSON(`[{"id":"p1","name":"Mug","quantity":2,"price":250}]`),
		ShippingAddress: datatypes.JSON(`{"city":"Pune"}`),
		ProviderOrderID: "order_123",
		PaymentStatus:   models.OrderStatusPending,
	}
	require.NoError(t, f.repos.Order.Create(context.Background(), order))
	return order
}

func (f *fixture) order(t *testing.T) *models.Order {
	t.Helper()
	order, err := f.repos.Order.GetByOrderID(context.Background(), "ORD123")
	require.NoError(t, err)
	return order
}

func (f *fixture) purchases(t *testing.T) []models.Purchase {
	t.Helper()
	purchases, err := f.repos.Purchase.ListByOrder(context.Background(), "ORD123")
	require.NoError(t, err)
	return purchases
}

func (f *fixture) transactions(t *testing.T) []models.Transaction {
	t.Helper()
	txs, err := f.repos.Transaction.ListByOrder(context.Background(), "ORD123")
	require.NoError(t, err)
	return txs
}

func (f *fixture) payments(t *testing.T) []models.Payment {
	t.Helper()
	payments, err := f.repos.Payment.ListByOrder(context.Background(), "ORD123")
	require.NoError(t, err)
	return payments
}

func paymentEvent(t *testing.T, eventType razorpay.EventType, eventID, paymentID string) razorpay.Event {
	t.Helper()
	raw := fmt.Sprintf(`{
		"entity":"event",
		"event":{"id":%q,"event":%q,"created_at":1735725600},
		"payload":{"payment":{"entity":{
			"id":%q,"amount":50000,"currency":"INR","status":"captured","order_id":"order_123",
			"method":"upi","vpa":"jane@okaxis","fee":1180,"tax":180,
			"error_code":"BAD_REQUEST_ERROR","error_description":"Payment declined",
			"created_at":1735725500
		}}}
	}`, eventID, eventType, paymentID)
	ev := razorpay.ParseEvent([]byte(raw))
	require.True(t, ev.IsValid, "fixture event must be valid: %v", ev.Err)
	return ev
}

func orderPaidEvent(t *testing.T, eventID string) razorpay.Event {
	t.Helper()
	raw := fmt.Sprintf(`{
		"event":{"id":%q,"event":"order.paid","created_at":1735725700},
		"payload":{"order":{"entity":{"id":"order_123","amount":50000,"amount_paid":50000,"currency":"INR","receipt":"ORD123","status":"paid"}}}
	}`, eventID)
	ev := razorpay.ParseEvent([]byte(raw))
	require.True(t, ev.IsValid, "fixture event must be valid: %v", ev.Err)
	return ev
}
