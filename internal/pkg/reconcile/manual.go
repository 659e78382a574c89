package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
)

var ErrAlreadyPaid = errors.New("order is already paid")

// ManualCompletion is an operator request to mark an order as paid.
type ManualCompletion struct {
	OrderID   string
	PaymentID string
	Method    string
	IPAddress string
	UserAgent string
}

// CompleteManually marks the order completed and records a captured payment
// in one database transaction, then broadcasts the change.
func (s *Service) CompleteManually(ctx context.Context, req ManualCompletion) (*models.Order, *models.Payment, error) {
	now := s.now()
	if req.PaymentID == "" {
		req.PaymentID = fmt.Sprintf("MANUAL_%d", now.UnixMilli())
	}
	if req.Method == "" {
		req.Method = "upi"
	}

	var order *models.Order
	var payment *models.Payment
	err := s.repos.InTransaction(ctx, func(tx *repository.Repositories) error {
		current, err := tx.Order.GetByOrderID(ctx, req.OrderID)
		if errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, req.OrderID)
		}
		if err != nil {
			return err
		}

		changed, err := tx.Order.TransitionStatus(ctx, current.OrderID, models.OrderStatusCompleted, allowedFrom[models.OrderStatusCompleted], map[string]interface{}{
			"payment_id":          req.PaymentID,
			"payment_method":      req.Method,
			"payment_captured_at": now,
		})
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("%w: %s is %s", ErrAlreadyPaid, current.OrderID, current.PaymentStatus)
		}

		providerOrderID := current.ProviderOrderID
		if providerOrderID == "" {
			providerOrderID = fmt.Sprintf("RZP_%d", now.UnixMilli())
		}
		paymentID := req.PaymentID
		payment = &models.Payment{
			ProviderPaymentID: &paymentID,
			ProviderOrderID:   providerOrderID,
			OrderID:           current.OrderID,
			Amount:            current.Amount,
			Currency:          currencyOf(current.Currency),
			Status:            models.PaymentStatusCaptured,
			Method:            req.Method,
			CapturedAt:        &now,
			Notes:             datatypes.JSON(`{"manual":true,"completedBy":"admin"}`),
		}
		if err := tx.Payment.Create(ctx, payment); err != nil {
			return fmt.Errorf("failed to record manual payment: %w", err)
		}

		if _, err := tx.Transaction.Create(ctx, &models.Transaction{
			OrderID:         current.OrderID,
			ProviderOrderID: providerOrderID,
			PaymentID:       paymentID,
			EventType:       models.TransactionPaymentCompleted,
			Amount:          current.Amount,
			Currency:        payment.Currency,
			Method:          req.Method,
			Status:          models.PaymentStatusCaptured,
			PreviousStatus:  current.PaymentStatus,
			Source:          models.TransactionSourceManual,
			Timestamp:       now,
		}); err != nil {
			return err
		}

		if _, err := tx.PaymentLog.Create(ctx, &models.PaymentLog{
			OrderID:           current.OrderID,
			PaymentID:         paymentID,
			ProviderOrderID:   providerOrderID,
			ProviderPaymentID: paymentID,
			Status:            models.LogStatusCaptured,
			PreviousStatus:    current.PaymentStatus,
			Amount:            money.ToSubunits(current.Amount),
			Currency:          payment.Currency,
			Method:            req.Method,
			CustomerName:      current.CustomerName,
			CustomerEmail:     current.CustomerEmail,
			CustomerPhone:     current.CustomerPhone,
			EventType:         models.LogEventStatusUpdated,
			Source:            models.LogSourceManual,
			IPAddress:         req.IPAddress,
			UserAgent:         req.UserAgent,
		}); err != nil {
			return err
		}

		order, err = tx.Order.GetByOrderID(ctx, current.OrderID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	log.Infof("[Reconcile] Order %s manually completed with payment %s", order.OrderID, req.PaymentID)
	s.publish(ctx, realtime.KindPaymentStatus, order, realtime.OrderUpdate{
		PaymentID: req.PaymentID,
		Method:    req.Method,
	})
	return order, payment, nil
}
