package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
)

// ensurePurchase creates the purchase snapshot for a paid order unless one
// exists for this event or this payment, then makes sure its audit entry
// exists. Failures here are logged and do not fail the event: the payment
// state is already recorded. The intake gate only drops a purchase event once
// both the purchase and its audit entry exist, so a redelivery of the same
// event fills in whatever is missing.
func (s *Service) ensurePurchase(ctx context.Context, in *input, payment *models.Payment, res *Result) {
	if !in.order.IsTerminalSuccess() {
		log.Warnf("[Reconcile] Order %s is %s, no purchase for %s", in.order.OrderID, in.order.PaymentStatus, in.event.ID)
		return
	}

	purchase, created, err := s.findOrCreatePurchase(ctx, in, payment)
	if err != nil {
		log.Errorf("[Reconcile] Purchase for order %s (event %s) failed: %v", in.order.OrderID, in.event.ID, err)
		return
	}
	if purchase == nil {
		return
	}
	res.PurchaseID = purchase.ID
	res.PurchaseCreated = created

	if err := s.ensureTransaction(ctx, in, purchase); err != nil {
		log.Errorf("[Reconcile] Audit entry for purchase %s failed: %v", purchase.ID, err)
	}

	if created && s.notifier != nil {
		if err := s.notifier.PurchaseCreated(ctx, purchase); err != nil {
			log.Warnf("[Reconcile] Purchase %s notification failed: %v", purchase.ID, err)
		}
	}
}

func (s *Service) findOrCreatePurchase(ctx context.Context, in *input, payment *models.Payment) (*models.Purchase, bool, error) {
	existing, err := s.repos.Purchase.GetByWebhookEventID(ctx, in.event.ID)
	if err == nil {
		log.Infof("[Reconcile] Purchase already exists for event %s", in.event.ID)
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	paymentID := paymentRef(payment, in)
	if paymentID == "" {
		log.Warnf("[Reconcile] No payment known for order %s, cannot build purchase for %s", in.order.OrderID, in.event.ID)
		return nil, false, nil
	}

	existing, err = s.repos.Purchase.FindByOrderAndPayment(ctx, in.order.OrderID, paymentID)
	if err == nil {
		log.Infof("[Reconcile] Purchase %s already covers payment %s", existing.ID, paymentID)
		return existing, false, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, err
	}

	purchase := s.newPurchase(in, payment, paymentID)
	created, err := s.repos.Purchase.Create(ctx, purchase)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := s.repos.Purchase.GetByWebhookEventID(ctx, in.event.ID)
		if errors.Is(err, repository.ErrNotFound) {
			existing, err = s.repos.Purchase.FindByOrderAndPayment(ctx, in.order.OrderID, paymentID)
		}
		if err != nil {
			return nil, false, fmt.Errorf("failed to load purchase after duplicate insert: %w", err)
		}
		return existing, false, nil
	}

	log.Infof("[Reconcile] Purchase %s created for order %s (payment %s, event %s)", purchase.ID, in.order.OrderID, paymentID, in.event.ID)
	return purchase, true, nil
}

func (s *Service) newPurchase(in *input, payment *models.Payment, paymentID string) *models.Purchase {
	order := in.order
	purchase := &models.Purchase{
		OrderID:           order.OrderID,
		ProviderOrderID:   providerOrderIDOf(in),
		ProviderPaymentID: paymentID,
		CustomerName:      order.CustomerName,
		CustomerEmail:     order.CustomerEmail,
		CustomerPhone:     order.CustomerPhone,
		Items:             order.Items,
		Amount:            order.Amount,
		Currency:          order.Currency,
		PaymentMethod:     order.PaymentMethod,
		PaymentStatus:     models.PaymentStatusCaptured,
		ShippingAddress:   order.ShippingAddress,
		WebhookEventID:    in.event.ID,
		WebhookEventType:  string(in.event.Type),
		VerifiedAt:        s.now(),
		FulfillmentStatus: models.FulfillmentStatusPending,
	}
	if payment != nil {
		if payment.Method != "" {
			purchase.PaymentMethod = payment.Method
		}
		purchase.PaymentFee = payment.Fee
		purchase.PaymentTax = payment.Tax
		purchase.NetAmount = payment.NetAmount()
		purchase.PaymentNotes = payment.Notes
	}
	if purchase.PaymentMethod == "" {
		purchase.PaymentMethod = "unknown"
	}
	return purchase
}

// ensureTransaction appends the PURCHASE_CREATED audit entry. The entry is
// keyed by the purchase's own event so any later event sees it as present.
func (s *Service) ensureTransaction(ctx context.Context, in *input, purchase *models.Purchase) error {
	sourceEventID := purchase.WebhookEventID
	metadata, err := json.Marshal(map[string]interface{}{
		"purchaseId":    purchase.ID,
		"customerEmail": purchase.CustomerEmail,
		"itemCount":     itemCount(purchase.Items),
		"eventType":     purchase.WebhookEventType,
	})
	if err != nil {
		return err
	}

	entry := &models.Transaction{
		OrderID:         purchase.OrderID,
		ProviderOrderID: purchase.ProviderOrderID,
		PaymentID:       purchase.ProviderPaymentID,
		EventType:       models.TransactionPurchaseCreated,
		Amount:          purchase.Amount,
		Currency:        purchase.Currency,
		Method:          purchase.PaymentMethod,
		Status:          models.PaymentStatusCaptured,
		Fee:             purchase.PaymentFee,
		Tax:             purchase.PaymentTax,
		NetAmount:       purchase.NetAmount,
		Source:          models.TransactionSourceWebhook,
		SourceEventID:   &sourceEventID,
		Metadata:        datatypes.JSON(metadata),
	}
	created, err := s.repos.Transaction.Create(ctx, entry)
	if err != nil {
		return err
	}
	if created {
		log.Infof("[Reconcile] Transaction %s recorded for order %s", models.TransactionPurchaseCreated, purchase.OrderID)
	}
	return nil
}

func itemCount(items datatypes.JSON) int {
	var list []json.RawMessage
	if err := json.Unmarshal(items, &list); err != nil {
		return 0
	}
	return len(list)
}
