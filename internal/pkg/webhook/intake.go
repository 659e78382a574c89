package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
)

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrInvalidJSON      = errors.New("invalid JSON payload")
	ErrQueueUnavailable = errors.New("failed to queue webhook")
)

// Enqueuer persists a job for the workers.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload interface{}) (*jobqueue.Job, error)
}

// DuplicateChecker is the advisory duplicate check run before queueing.
type DuplicateChecker interface {
	Seen(ctx context.Context, ev razorpay.Event) (bool, error)
}

// DefaultGateTimeout bounds the duplicate pre-check on the request path.
const DefaultGateTimeout = 2 * time.Second

// Gate checks stored rows for an event. It can miss duplicates that race
// each other; the reconciler's unique keys are what actually prevent
// repeated side effects.
type Gate struct {
	payments     repository.PaymentRepository
	purchases    repository.PurchaseRepository
	transactions repository.TransactionRepository
}

func NewGate(payments repository.PaymentRepository, purchases repository.PurchaseRepository, transactions repository.TransactionRepository) *Gate {
	return &Gate{payments: payments, purchases: purchases, transactions: transactions}
}

// Seen reports whether ev was already fully applied. For events that produce
// a purchase that means the purchase and its audit entry both exist, so a
// redelivery can still complete a purchase step that failed earlier. Other
// events count as seen once a payment carries their id.
func (g *Gate) Seen(ctx context.Context, ev razorpay.Event) (bool, error) {
	if ev.ID == "" {
		return false, nil
	}
	if !ev.Type.CreatesPurchase() {
		return g.payments.ExistsByWebhookEventID(ctx, ev.ID)
	}

	_, err := g.purchases.GetByWebhookEventID(ctx, ev.ID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := g.transactions.CountBySourceEvent(ctx, ev.ID, models.TransactionPurchaseCreated)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Acceptance is the outcome of a successfully accepted webhook.
type Acceptance struct {
	Duplicate bool
	JobID     string
	Event     razorpay.Event
}

// Intake runs the synchronous part of webhook ingestion: authenticate,
// normalize, drop obvious duplicates and queue the rest.
type Intake struct {
	secret      string
	gate        DuplicateChecker
	gateTimeout time.Duration
	queue       Enqueuer
	now         func() time.Time
}

// NewIntake creates an intake. gate may be nil to skip the pre-check.
func NewIntake(secret string, gate DuplicateChecker, queue Enqueuer) *Intake {
	return &Intake{
		secret:      secret,
		gate:        gate,
		gateTimeout: DefaultGateTimeout,
		queue:       queue,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetGateTimeout changes how long the duplicate pre-check may take.
func (i *Intake) SetGateTimeout(d time.Duration) {
	if d > 0 {
		i.gateTimeout = d
	}
}

// Accept validates raw and queues it. raw must be the unmodified request body.
func (i *Intake) Accept(ctx context.Context, raw []byte, signature string, meta RequestMetadata) (*Acceptance, error) {
	if signature == "" {
		return nil, ErrMissingSignature
	}
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}
	if !razorpay.VerifyWebhookSignature(raw, signature, i.secret) {
		return nil, ErrSignatureInvalid
	}

	ev := razorpay.ParseEvent(raw)
	if !ev.IsValid {
		return nil, ev.Err
	}
	acc := &Acceptance{Event: ev}

	if i.seen(ctx, ev) {
		log.Infof("[Webhook] Duplicate webhook event ignored: %s", ev.ID)
		acc.Duplicate = true
		return acc, nil
	}

	job, err := i.queue.Enqueue(ctx, JobName, Payload{
		RawEvent:   string(raw),
		Signature:  signature,
		EventID:    ev.ID,
		EventType:  string(ev.Type),
		ReceivedAt: i.now(),
		Request:    meta,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	acc.JobID = job.ID
	log.Infof("[Webhook] Queued for processing: job %s, event %s (%s)", job.ID, ev.Type, ev.ID)
	return acc, nil
}

// seen runs the pre-check under its own deadline. Errors and timeouts count
// as not seen; the worker deduplicates authoritatively.
func (i *Intake) seen(ctx context.Context, ev razorpay.Event) bool {
	if i.gate == nil {
		return false
	}
	gctx, cancel := context.WithTimeout(ctx, i.gateTimeout)
	defer cancel()

	type outcome struct {
		seen bool
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		seen, err := i.gate.Seen(gctx, ev)
		done <- outcome{seen, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			log.Warnf("[Webhook] Duplicate pre-check for %s failed: %v", ev.ID, out.err)
			return false
		}
		return out.seen
	case <-gctx.Done():
		log.Warnf("[Webhook] Duplicate pre-check for %s timed out after %s, queueing anyway", ev.ID, i.gateTimeout)
		return false
	}
}
