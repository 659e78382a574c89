package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
)

const testSecret = "whsec_test"

type pipeline struct {
	db        *gorm.DB
	repos     *repository.Repositories
	queue     *jobqueue.Queue
	intake    *Intake
	processor *Processor
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := dbtest.Open(t)
	repos := repository.NewRepositories(db)
	queue := jobqueue.NewQueue(client, jobqueue.Options{
		Name:         "payment-webhook",
		MaxAttempts:  5,
		BackoffDelay: 30 * time.Second,
		PollTimeout:  time.Second,
	})
	processor := NewProcessor(testSecret, reconcile.NewService(repos, nil, nil), repos.PaymentLog)
	processor.SetProgressReporter(queue)

	return &pipeline{
		db:        db,
		repos:     repos,
		queue:     queue,
		intake:    NewIntake(testSecret, NewGate(repos.Payment, repos.Purchase, repos.Transaction), queue),
		processor: processor,
	}
}

func (p *pipeline) seedOrder(t *testing.T) {
	t.Helper()
	require.NoError(t, p.repos.Order.Create(context.Background(), &models.Order{
		OrderID:         "ORD123",
		Amount:          decimal.RequireFromString("500.00"),
		Currency:        "INR",
		CustomerName:    "Jane Doe",
		CustomerEmail:   "jane@example.com",
		CustomerPhone:   "9876543210",
		ProviderOrderID: "order_123",
		PaymentStatus:   models.OrderStatusPending,
	}))
}

func (p *pipeline) processNext(t *testing.T) {
	t.Helper()
	ok, err := p.queue.ProcessNext(context.Background(), p.processor)
	require.NoError(t, err)
	require.True(t, ok, "expected a queued job")
}

// capturedBody keeps its indentation on purpose: the signature covers the
// exact bytes.
func capturedBody(eventID string) []byte {
	return []byte(fmt.Sprintf(`{
  "event": {"id": %q, "event": "payment.captured", "created_at": 1735725600},
  "payload": {
    "payment": {"entity": {
      "id": "pay_1", "amount": 50000, "currency": "INR", "status": "captured",
      "order_id": "order_123", "method": "upi", "vpa": "jane@okaxis", "bank": "HDFC0001"
    }}
  }
}`, eventID))
}

func sign(body []byte) string {
	return razorpay.ComputeSignature(body, testSecret)
}

func TestIntake_RejectsBeforeQueueing(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	body := capturedBody("evt_1")

	tampered := bytes.Replace(body, []byte(`"amount": 50000`), []byte(`"amount": 50001`), 1)

	malformed := []byte(`{"payload":{}}`)

	tests := []struct {
		name      string
		body      []byte
		signature string
		wantErr   error
	}{
		{"missing signature", body, "", ErrMissingSignature},
		{"invalid json", []byte(`{not json`), sign([]byte(`{not json`)), ErrInvalidJSON},
		{"wrong signature", body, sign([]byte("other")), ErrSignatureInvalid},
		{"single byte altered", tampered, sign(body), ErrSignatureInvalid},
		{"malformed envelope", malformed, sign(malformed), razorpay.ErrMalformedEvent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.intake.Accept(ctx, tt.body, tt.signature, RequestMetadata{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stats, err := p.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
}

func TestPipeline_AcceptAndProcess(t *testing.T) {
	p := newPipeline(t)
	p.seedOrder(t)
	ctx := context.Background()
	body := capturedBody("evt_1")

	acc, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{IP: "10.0.0.1", UserAgent: "Razorpay-Webhook/v1"})
	require.NoError(t, err)
	assert.False(t, acc.Duplicate)
	assert.NotEmpty(t, acc.JobID)
	assert.Equal(t, razorpay.EventPaymentCaptured, acc.Event.Type)

	p.processNext(t)

	order, err := p.repos.Order.GetByOrderID(ctx, "ORD123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCompleted, order.PaymentStatus)
	assert.NotContains(t, string(order.LastWebhookPayload), "jane@okaxis")

	purchases, err := p.repos.Purchase.ListByOrder(ctx, "ORD123")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)

	logs, total, err := p.repos.PaymentLog.List(ctx, repository.PaymentLogFilter{OrderID: "ORD123"})
	require.NoError(t, err)
	require.Equal(t, int64(1), total)
	assert.Equal(t, models.LogStatusCaptured, logs[0].Status)
	assert.Equal(t, int64(50000), logs[0].Amount)
	assert.Equal(t, "500", logs[0].AmountDisplay.String())
	assert.Equal(t, "10.0.0.1", logs[0].IPAddress)
	assert.Equal(t, models.OrderStatusPending, logs[0].PreviousStatus)
	assert.Contains(t, string(logs[0].ResponseData), "ja****@okaxis")
	assert.Contains(t, string(logs[0].MethodDetails), "HDFC****")

	job, err := p.queue.GetJob(ctx, acc.JobID)
	require.NoError(t, err)
	assert.Equal(t, jobqueue.JobStatusCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
}

func TestPipeline_DuplicateDelivery(t *testing.T) {
	p := newPipeline(t)
	p.seedOrder(t)
	ctx := context.Background()
	body := capturedBody("evt_1")

	// Two deliveries race past the pre-check, both get queued.
	first, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	second, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)

	p.processNext(t)
	p.processNext(t)

	payments, err := p.repos.Payment.ListByOrder(ctx, "ORD123")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	purchases, err := p.repos.Purchase.ListByOrder(ctx, "ORD123")
	require.NoError(t, err)
	assert.Len(t, purchases, 1)
	_, total, err := p.repos.PaymentLog.List(ctx, repository.PaymentLogFilter{OrderID: "ORD123"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// A third delivery after processing is caught before the queue.
	third, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	assert.True(t, third.Duplicate)
	assert.Empty(t, third.JobID)

	stats, err := p.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.Waiting)
}

func TestProcessor_RejectsForgedJob(t *testing.T) {
	p := newPipeline(t)
	p.seedOrder(t)
	ctx := context.Background()
	body := capturedBody("evt_1")

	job, err := p.queue.Enqueue(ctx, JobName, Payload{RawEvent: string(body), Signature: sign([]byte("forged"))})
	require.NoError(t, err)

	p.processNext(t)

	failed, err := p.queue.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, job.ID, failed[0].ID)
	assert.Equal(t, 1, failed[0].Attempts, "no retries for a bad signature")

	order, err := p.repos.Order.GetByOrderID(ctx, "ORD123")
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.PaymentStatus)
}

func TestProcessor_OrderNotFoundIsTerminal(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	body := capturedBody("evt_1")

	_, err := p.intake.Accept(ctx, body, sign(body), RequestMetadata{})
	require.NoError(t, err)
	p.processNext(t)

	failed, err := p.queue.ListFailed(ctx, 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].LastError, "order not found")

	// the event is still on record for reporting
	exists, err := p.repos.PaymentLog.ExistsByWebhookEventID(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, exists)
}

type failingReconciler struct{ err error }

func (f failingReconciler) Apply(context.Context, razorpay.Event, []byte) (*reconcile.Result, error) {
	return &reconcile.Result{}, f.err
}

func TestProcessor_ErrorClassification(t *testing.T) {
	body := capturedBody("evt_1")
	payload := Payload{RawEvent: string(body), Signature: sign(body)}

	newJob := func(t *testing.T, name string, payload interface{}) *jobqueue.Job {
		t.Helper()
		mr := miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		job, err := jobqueue.NewQueue(client, jobqueue.Options{Name: "classify"}).Enqueue(context.Background(), name, payload)
		require.NoError(t, err)
		return job
	}

	transient := NewProcessor(testSecret, failingReconciler{err: errors.New("connection reset")}, nil)
	err := transient.Handle(context.Background(), newJob(t, JobName, payload))
	require.Error(t, err)
	assert.False(t, jobqueue.IsPermanent(err))

	missing := NewProcessor(testSecret, failingReconciler{err: fmt.Errorf("wrapped: %w", reconcile.ErrOrderNotFound)}, nil)
	err = missing.Handle(context.Background(), newJob(t, JobName, payload))
	assert.True(t, jobqueue.IsPermanent(err))
	assert.ErrorIs(t, err, reconcile.ErrOrderNotFound)

	err = transient.Handle(context.Background(), newJob(t, "something-else", payload))
	assert.True(t, jobqueue.IsPermanent(err))
	assert.ErrorIs(t, err, ErrUnexpectedJob)

	err = transient.Handle(context.Background(), newJob(t, JobName, "not an object"))
	assert.True(t, jobqueue.IsPermanent(err))
}

func TestRequestMetadata_ClientIP(t *testing.T) {
	assert.Equal(t, "1.1.1.1", RequestMetadata{IP: "1.1.1.1"}.ClientIP())
	assert.Equal(t, "2.2.2.2", RequestMetadata{IP: "1.1.1.1", ForwardedFor: "2.2.2.2"}.ClientIP())
	assert.Equal(t, "3.3.3.3", RequestMetadata{IP: "1.1.1.1", ForwardedFor: "2.2.2.2", RealIP: "3.3.3.3"}.ClientIP())
}
