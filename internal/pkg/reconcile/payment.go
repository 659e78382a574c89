package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
)

// upsertPayment records the event's payment entity at status. An existing
// row only moves to a higher ranked status, and a row already stamped with
// this event is left alone. The bool reports whether anything was written.
func (s *Service) upsertPayment(ctx context.Context, in *input, status string) (*models.Payment, bool, error) {
	entity := in.event.Payment

	existing, err := s.repos.Payment.GetByProviderPaymentID(ctx, entity.ID)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrNotFound):
		payment := s.newPayment(in, status)
		err = s.repos.Payment.Create(ctx, payment)
		if err == nil {
			log.Infof("[Reconcile] Payment %s recorded as %s for order %s", entity.ID, status, in.order.OrderID)
			return payment, true, nil
		}
		if !repository.IsDuplicate(err) {
			return nil, false, fmt.Errorf("failed to create payment %s: %w", entity.ID, err)
		}
		// A concurrent delivery inserted it first.
		existing, err = s.repos.Payment.GetByProviderPaymentID(ctx, entity.ID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to load payment %s after duplicate insert: %w", entity.ID, err)
		}
	default:
		return nil, false, fmt.Errorf("failed to load payment %s: %w", entity.ID, err)
	}

	if existing.WebhookEventID != nil && *existing.WebhookEventID == in.event.ID {
		return existing, false, nil
	}

	changed, err := s.repos.Payment.AdvanceStatus(ctx, existing.ID, paymentAdvanceFrom(status), s.paymentFields(in, status))
	if repository.IsDuplicate(err) {
		log.Infof("[Reconcile] Event %s already recorded on a payment, skipping update of %s", in.event.ID, entity.ID)
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to update payment %s: %w", entity.ID, err)
	}
	if !changed {
		log.Infof("[Reconcile] Payment %s stays %s, not moving to %s", entity.ID, existing.Status, status)
		return existing, false, nil
	}

	updated, err := s.repos.Payment.GetByID(ctx, existing.ID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to reload payment %s: %w", entity.ID, err)
	}
	log.Infof("[Reconcile] Payment %s: %s -> %s", entity.ID, existing.Status, status)
	return updated, true, nil
}

func (s *Service) newPayment(in *input, status string) *models.Payment {
	entity := in.event.Payment
	providerPaymentID := entity.ID
	eventID := in.event.ID

	payment := &models.Payment{
		ProviderPaymentID: &providerPaymentID,
		ProviderOrderID:   providerOrderIDOf(in),
		OrderID:           in.order.OrderID,
		Amount:            money.FromSubunits(entity.Amount),
		Currency:          currencyOf(entity.Currency, in.order.Currency),
		Status:            status,
		Method:            entity.Method,
		Bank:              entity.Bank,
		Wallet:            entity.Wallet,
		VPA:               entity.VPA,
		CardID:            entity.CardID,
		WebhookEventID:    &eventID,
		WebhookEventType:  string(in.event.Type),
		International:     entity.International,
		AmountRefunded:    money.FromSubunits(entity.AmountRefunded),
	}
	if entity.Card != nil {
		payment.CardLast4 = entity.Card.Last4
		payment.CardNetwork = entity.Card.Network
		payment.CardType = entity.Card.Type
	}
	if len(entity.Notes) > 0 {
		payment.Notes = datatypes.JSON(entity.Notes)
	}
	if len(in.payload) > 0 {
		payment.LastWebhookPayload = datatypes.JSON(in.payload)
	}

	now := s.now()
	switch status {
	case models.PaymentStatusAuthorized:
		payment.AuthorizedAt = eventTime(entity.CreatedAt, now)
	case models.PaymentStatusCaptured:
		payment.CapturedAt = &now
		payment.Fee = nullDecimal(entity.Fee)
		payment.Tax = nullDecimal(entity.Tax)
	case models.PaymentStatusFailed:
		payment.FailedAt = &now
		payment.ErrorCode = entity.ErrorCode
		payment.ErrorDescription = entity.ErrorDescription
		payment.ErrorSource = entity.ErrorSource
		payment.ErrorStep = entity.ErrorStep
		payment.ErrorReason = entity.ErrorReason
	}
	return payment
}

// paymentFields is the update applied to an existing payment row.
func (s *Service) paymentFields(in *input, status string) map[string]interface{} {
	entity := in.event.Payment
	fields := map[string]interface{}{
		"status":             status,
		"webhook_event_id":   in.event.ID,
		"webhook_event_type": string(in.event.Type),
	}
	if len(in.payload) > 0 {
		fields["last_webhook_payload"] = datatypes.JSON(in.payload)
	}
	if entity.Method != "" {
		fields["method"] = entity.Method
	}

	now := s.now()
	switch status {
	case models.PaymentStatusAuthorized:
		fields["authorized_at"] = eventTime(entity.CreatedAt, now)
	case models.PaymentStatusCaptured:
		fields["captured_at"] = now
		if entity.Fee != nil {
			fields["fee"] = money.FromSubunits(*entity.Fee)
		}
		if entity.Tax != nil {
			fields["tax"] = money.FromSubunits(*entity.Tax)
		}
	case models.PaymentStatusFailed:
		fields["failed_at"] = now
		fields["error_code"] = entity.ErrorCode
		fields["error_description"] = entity.ErrorDescription
		fields["error_source"] = entity.ErrorSource
		fields["error_step"] = entity.ErrorStep
		fields["error_reason"] = entity.ErrorReason
	}
	return fields
}

func providerOrderIDOf(in *input) string {
	if id := in.event.ProviderOrderID(); id != "" {
		return id
	}
	return in.order.ProviderOrderID
}

func currencyOf(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "INR"
}

func eventTime(unix int64, fallback time.Time) *time.Time {
	if unix <= 0 {
		return &fallback
	}
	t := time.Unix(unix, 0).UTC()
	return &t
}

func nullDecimal(subunits *int64) decimal.NullDecimal {
	d := money.FromSubunitsPtr(subunits)
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
