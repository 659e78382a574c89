package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
)

var (
	ErrSignatureInvalid = errors.New("invalid webhook signature")
	ErrUnexpectedJob    = errors.New("unexpected job name")
)

// Reconciler applies a normalized event to stored state.
type Reconciler interface {
	Apply(ctx context.Context, ev razorpay.Event, payload []byte) (*reconcile.Result, error)
}

// ProgressReporter receives coarse progress of a running job.
type ProgressReporter interface {
	ReportProgress(ctx context.Context, job *jobqueue.Job, progress int)
}

// Processor is the queue handler for accepted webhooks.
type Processor struct {
	secret     string
	reconciler Reconciler
	logs       repository.PaymentLogRepository
	progress   ProgressReporter
}

func NewProcessor(secret string, reconciler Reconciler, logs repository.PaymentLogRepository) *Processor {
	return &Processor{secret: secret, reconciler: reconciler, logs: logs}
}

// SetProgressReporter enables progress updates on the running job.
func (p *Processor) SetProgressReporter(r ProgressReporter) {
	p.progress = r
}

// Handle verifies, normalizes and reconciles one queued webhook. Errors that
// another attempt cannot fix come back wrapped in jobqueue.Permanent.
func (p *Processor) Handle(ctx context.Context, job *jobqueue.Job) error {
	if job.Name != JobName {
		return jobqueue.Permanent(fmt.Errorf("%w: %s", ErrUnexpectedJob, job.Name))
	}

	var payload Payload
	if err := job.Decode(&payload); err != nil {
		return jobqueue.Permanent(err)
	}
	raw := []byte(payload.RawEvent)
	p.report(ctx, job, 10)

	if !razorpay.VerifyWebhookSignature(raw, payload.Signature, p.secret) {
		log.Errorf("[Webhook] Job %s: signature check failed, rejecting", job.ID)
		return jobqueue.Permanent(ErrSignatureInvalid)
	}
	p.report(ctx, job, 30)

	ev := razorpay.ParseEvent(raw)
	if !ev.IsValid {
		log.Errorf("[Webhook] Job %s: rejecting event: %v", job.ID, ev.Err)
		return jobqueue.Permanent(ev.Err)
	}
	p.report(ctx, job, 50)

	log.Infof("[Webhook] Processing job %s: %s %s (attempt %d/%d)", job.ID, ev.Type, ev.ID, job.AttemptNumber(), job.MaxAttempts)
	sanitized := razorpay.SanitizeForLogging(raw)

	res, err := p.reconciler.Apply(ctx, ev, sanitized)
	switch {
	case errors.Is(err, reconcile.ErrOrderNotFound):
		log.Warnf("[Webhook] Job %s: terminal failure, order does not exist: %v", job.ID, err)
		p.recordLog(ctx, job, &payload, ev, res, sanitized)
		return jobqueue.Permanent(err)
	case err != nil:
		log.Errorf("[Webhook] Job %s: transient failure on attempt %d: %v", job.ID, job.AttemptNumber(), err)
		return err
	}
	p.report(ctx, job, 70)

	p.recordLog(ctx, job, &payload, ev, res, sanitized)
	p.report(ctx, job, 100)

	if res.Handled {
		log.Infof("[Webhook] Job %s done: order %s %s -> %s (purchase created: %t)",
			job.ID, res.OrderID, res.PreviousStatus, res.Status, res.PurchaseCreated)
	}
	return nil
}

func (p *Processor) report(ctx context.Context, job *jobqueue.Job, progress int) {
	if p.progress != nil {
		p.progress.ReportProgress(ctx, job, progress)
	}
}

// recordLog writes the payment log entry for the event once. A failure is
// logged only: the entry is reporting data and must not fail the job.
func (p *Processor) recordLog(ctx context.Context, job *jobqueue.Job, payload *Payload, ev razorpay.Event, res *reconcile.Result, sanitized []byte) {
	if p.logs == nil {
		return
	}
	entry := buildLogEntry(job, payload, ev, res, sanitized)
	created, err := p.logs.Create(ctx, entry)
	if err != nil {
		log.Errorf("[Webhook] Payment log for event %s failed: %v", ev.ID, err)
		return
	}
	if !created {
		log.Debugf("[Webhook] Payment log for event %s already exists", ev.ID)
	}
}

func buildLogEntry(job *jobqueue.Job, payload *Payload, ev razorpay.Event, res *reconcile.Result, sanitized []byte) *models.PaymentLog {
	eventID := ev.ID
	entry := &models.PaymentLog{
		OrderID:          ev.Receipt(),
		ProviderOrderID:  ev.ProviderOrderID(),
		Status:           razorpay.MapEventToLogStatus(ev.Type),
		Currency:         "INR",
		WebhookEventID:   &eventID,
		WebhookEventType: string(ev.Type),
		EventType:        models.LogEventWebhookReceived,
		Source:           models.LogSourceWebhook,
		ResponseData:     datatypes.JSON(sanitized),
		IPAddress:        payload.Request.ClientIP(),
		UserAgent:        payload.Request.UserAgent,
	}
	if res != nil && res.OrderID != "" {
		entry.OrderID = res.OrderID
		entry.PreviousStatus = res.PreviousStatus
	}
	if entry.OrderID == "" {
		entry.OrderID = entry.ProviderOrderID
	}

	if pay := ev.Payment; pay != nil {
		entry.PaymentID = pay.ID
		entry.ProviderPaymentID = pay.ID
		entry.Amount = pay.Amount
		entry.Method = pay.Method
		entry.Fee = pay.Fee
		entry.Tax = pay.Tax
		entry.ErrorCode = pay.ErrorCode
		entry.ErrorDescription = pay.ErrorDescription
		entry.CustomerEmail = pay.Email
		entry.CustomerPhone = pay.Contact
		if pay.Currency != "" {
			entry.Currency = pay.Currency
		}
		if details := methodDetails(pay); details != nil {
			entry.MethodDetails = details
		}
	} else if ord := ev.Order; ord != nil {
		entry.Amount = ord.Amount
		if ord.Currency != "" {
			entry.Currency = ord.Currency
		}
	}

	metadata := map[string]interface{}{
		"job_id":      job.ID,
		"attempt":     job.AttemptNumber(),
		"received_at": payload.ReceivedAt,
	}
	if !ev.CreatedAt.IsZero() {
		metadata["webhook_created_at"] = ev.CreatedAt
	}
	if data, err := json.Marshal(metadata); err == nil {
		entry.Metadata = datatypes.JSON(data)
	}
	return entry
}

// methodDetails keeps the masked payment instrument of an entity.
func methodDetails(pay *razorpay.PaymentEntity) datatypes.JSON {
	details := map[string]interface{}{}
	if pay.Card != nil {
		details["card"] = map[string]string{"last4": pay.Card.Last4, "network": pay.Card.Network, "type": pay.Card.Type}
	}
	if pay.Bank != "" {
		details["bank"] = razorpay.MaskBank(pay.Bank)
	}
	if pay.Wallet != "" {
		details["wallet"] = pay.Wallet
	}
	if pay.VPA != "" {
		details["vpa"] = razorpay.MaskVPA(pay.VPA)
	}
	if len(details) == 0 {
		return nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return datatypes.JSON(data)
}
