package webhook

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
)

// blockingGate answers only once its context is done.
type blockingGate struct{ calls int32 }

func (g *blockingGate) Seen(ctx context.Context, _ razorpay.Event) (bool, error) {
	atomic.AddInt32(&g.calls, 1)
	<-ctx.Done()
	return true, ctx.Err()
}

type erroringGate struct{}

func (erroringGate) Seen(context.Context, razorpay.Event) (bool, error) {
	return true, errors.New("db down")
}

func TestIntake_SlowGateStillQueues(t *testing.T) {
	p := newPipeline(t)
	gate := &blockingGate{}
	intake := NewIntake(testSecret, gate, p.queue)
	intake.SetGateTimeout(50 * time.Millisecond)
	body := capturedBody("evt_1")

	start := time.Now()
	acc, err := intake.Accept(context.Background(), body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&gate.calls) == 1 }, time.Second, 5*time.Millisecond)
	assert.False(t, acc.Duplicate)
	assert.NotEmpty(t, acc.JobID)

	stats, err := p.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Waiting)
}

func TestIntake_GateErrorCountsAsNotSeen(t *testing.T) {
	p := newPipeline(t)
	body := capturedBody("evt_1")

	acc, err := NewIntake(testSecret, erroringGate{}, p.queue).Accept(context.Background(), body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	assert.False(t, acc.Duplicate)
	assert.NotEmpty(t, acc.JobID)
}

func TestGate_RedeliveryCompletesMissingPurchase(t *testing.T) {
	p := newPipeline(t)
	p.seedOrder(t)
	ctx := context.Background()
	body := capturedBody("evt_1")

	_, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	p.processNext(t)

	// Payment recorded, purchase step lost.
	require.NoError(t, p.db.Where("1 = 1").Delete(&models.Transaction{}).Error)
	require.NoError(t, p.db.Where("1 = 1").Delete(&models.Purchase{}).Error)

	acc, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	require.False(t, acc.Duplicate, "a payment alone does not make a captured event a duplicate")
	p.processNext(t)

	purchases, err := p.repos.Purchase.ListByOrder(ctx, "ORD123")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
	n, err := p.repos.Transaction.CountBySourceEvent(ctx, "evt_1", models.TransactionPurchaseCreated)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	acc, err = p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	assert.True(t, acc.Duplicate)
}

func TestGate_NonPurchaseEventSeenByPayment(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	gate := NewGate(p.repos.Payment, p.repos.Purchase, p.repos.Transaction)
	authorized := razorpay.Event{ID: "evt_auth", Type: razorpay.EventPaymentAuthorized}

	seen, err := gate.Seen(ctx, authorized)
	require.NoError(t, err)
	assert.False(t, seen)

	eventID := "evt_auth"
	paymentID := "pay_9"
	require.NoError(t, p.repos.Payment.Create(ctx, &models.Payment{
		ProviderPaymentID: &paymentID,
		ProviderOrderID:   "order_9",
		OrderID:           "ORD9",
		Status:            models.PaymentStatusAuthorized,
		WebhookEventID:    &eventID,
	}))

	seen, err = gate.Seen(ctx, authorized)
	require.NoError(t, err)
	assert.True(t, seen)
}
