package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidEvent  = errors.New("event is not valid")
)

// PurchaseNotifier is told about every newly created purchase.
type PurchaseNotifier interface {
	PurchaseCreated(ctx context.Context, purchase *models.Purchase) error
}

// Result describes what applying one event changed.
type Result struct {
	EventID         string
	EventType       razorpay.EventType
	Handled         bool
	OrderID         string
	PreviousStatus  string
	Status          string
	StatusChanged   bool
	PaymentChanged  bool
	PurchaseID      string
	PurchaseCreated bool
}

// Service applies provider events to orders, payments, purchases and the
// transaction trail. Every step checks the current state first, so a
// redelivered or retried event only fills in what is missing.
type Service struct {
	repos     *repository.Repositories
	publisher realtime.Publisher
	notifier  PurchaseNotifier
	now       func() time.Time
}

// NewService creates a reconciliation service. publisher and notifier may be
// nil.
func NewService(repos *repository.Repositories, publisher realtime.Publisher, notifier PurchaseNotifier) *Service {
	return &Service{
		repos:     repos,
		publisher: publisher,
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

type eventHandler func(s *Service, ctx context.Context, in *input, res *Result) error

// handlers is the closed set of reconciled event types.
var handlers = map[razorpay.EventType]eventHandler{
	razorpay.EventPaymentAuthorized: (*Service).paymentAuthorized,
	razorpay.EventPaymentCaptured:   (*Service).paymentCaptured,
	razorpay.EventPaymentFailed:     (*Service).paymentFailed,
	razorpay.EventOrderPaid:         (*Service).orderPaid,
}

// Handles reports whether t has a reconciliation handler.
func Handles(t razorpay.EventType) bool {
	_, ok := handlers[t]
	return ok
}

type input struct {
	event   razorpay.Event
	payload []byte
	order   *models.Order
}

// Apply reconciles one normalized event. payload is the sanitized body stored
// on the order for diagnostics. ErrOrderNotFound is returned wrapped when the
// event refers to an order that does not exist.
func (s *Service) Apply(ctx context.Context, ev razorpay.Event, payload []byte) (*Result, error) {
	res := &Result{EventID: ev.ID, EventType: ev.Type}
	if !ev.IsValid {
		return res, fmt.Errorf("%w: %v", ErrInvalidEvent, ev.Err)
	}

	handler, ok := handlers[ev.Type]
	if !ok {
		log.Infof("[Reconcile] Unhandled event type %s (%s), ignoring", ev.Type, ev.ID)
		return res, nil
	}

	order, err := s.repos.Order.FindForEvent(ctx, ev.ProviderOrderID(), ev.Receipt())
	if errors.Is(err, repository.ErrNotFound) {
		return res, fmt.Errorf("%w: provider order %q receipt %q (%s)", ErrOrderNotFound, ev.ProviderOrderID(), ev.Receipt(), ev.Type)
	}
	if err != nil {
		return res, fmt.Errorf("failed to locate order: %w", err)
	}

	res.Handled = true
	res.OrderID = order.OrderID
	res.PreviousStatus = order.PaymentStatus
	res.Status = order.PaymentStatus

	in := &input{event: ev, payload: payload, order: order}
	if err := handler(s, ctx, in, res); err != nil {
		return res, err
	}
	return res, nil
}

func (s *Service) paymentAuthorized(ctx context.Context, in *input, res *Result) error {
	payment, changed, err := s.upsertPayment(ctx, in, models.PaymentStatusAuthorized)
	if err != nil {
		return err
	}
	res.PaymentChanged = changed

	if err := s.transition(ctx, in, res, models.OrderStatusAuthorized, map[string]interface{}{
		"payment_id":     paymentRef(payment, in),
		"payment_method": in.event.Payment.Method,
	}); err != nil {
		return err
	}

	if res.StatusChanged {
		s.publish(ctx, realtime.KindPaymentStatus, in.order, realtime.OrderUpdate{
			PaymentID: paymentRef(payment, in),
			Method:    in.event.Payment.Method,
		})
	}
	return nil
}

func (s *Service) paymentCaptured(ctx context.Context, in *input, res *Result) error {
	payment, changed, err := s.upsertPayment(ctx, in, models.PaymentStatusCaptured)
	if err != nil {
		return err
	}
	res.PaymentChanged = changed

	now := s.now()
	if err := s.transition(ctx, in, res, models.OrderStatusCompleted, map[string]interface{}{
		"payment_id":          paymentRef(payment, in),
		"payment_method":      in.event.Payment.Method,
		"payment_captured_at": now,
	}); err != nil {
		return err
	}

	s.ensurePurchase(ctx, in, payment, res)

	if res.StatusChanged {
		s.publish(ctx, realtime.KindPaymentStatus, in.order, realtime.OrderUpdate{
			PaymentID:       paymentRef(payment, in),
			Method:          in.event.Payment.Method,
			PurchaseCreated: res.PurchaseCreated,
		})
	}
	return nil
}

func (s *Service) paymentFailed(ctx context.Context, in *input, res *Result) error {
	payment, changed, err := s.upsertPayment(ctx, in, models.PaymentStatusFailed)
	if err != nil {
		return err
	}
	res.PaymentChanged = changed

	if err := s.transition(ctx, in, res, models.OrderStatusFailed, map[string]interface{}{
		"payment_id": paymentRef(payment, in),
	}); err != nil {
		return err
	}

	if res.StatusChanged {
		s.publish(ctx, realtime.KindPaymentStatus, in.order, realtime.OrderUpdate{
			PaymentID: paymentRef(payment, in),
			Error:     in.event.Payment.ErrorDescription,
		})
	}
	return nil
}

// orderPaid completes the order. The payment entity is optional on this
// event; without it the purchase is built from the last known payment.
func (s *Service) orderPaid(ctx context.Context, in *input, res *Result) error {
	var payment *models.Payment
	if in.event.Payment != nil {
		p, changed, err := s.upsertPayment(ctx, in, models.PaymentStatusCaptured)
		if err != nil {
			return err
		}
		payment = p
		res.PaymentChanged = changed
	} else {
		payment = s.knownPayment(ctx, in.order)
	}

	fields := map[string]interface{}{
		"payment_captured_at": s.now(),
	}
	if ref := paymentRef(payment, in); ref != "" {
		fields["payment_id"] = ref
	}
	if err := s.transition(ctx, in, res, models.OrderStatusCompleted, fields); err != nil {
		return err
	}

	s.ensurePurchase(ctx, in, payment, res)

	if res.StatusChanged {
		s.publish(ctx, realtime.KindOrderStatus, in.order, realtime.OrderUpdate{
			PaymentID:       paymentRef(payment, in),
			PurchaseCreated: res.PurchaseCreated,
		})
	}
	return nil
}

// knownPayment finds the payment an order.paid event without a payment
// entity refers to.
func (s *Service) knownPayment(ctx context.Context, order *models.Order) *models.Payment {
	if order.PaymentID != "" {
		payment, err := s.repos.Payment.GetByProviderPaymentID(ctx, order.PaymentID)
		if err == nil {
			return payment
		}
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[Reconcile] Payment lookup for order %s failed: %v", order.OrderID, err)
		}
	}
	payment, err := s.repos.Payment.LatestForOrder(ctx, order.OrderID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.Warnf("[Reconcile] Latest payment lookup for order %s failed: %v", order.OrderID, err)
		}
		return nil
	}
	return payment
}

// transition moves the order to `to` when its current status allows it and
// reloads it. A stale event leaves the order untouched.
func (s *Service) transition(ctx context.Context, in *input, res *Result, to string, fields map[string]interface{}) error {
	fields["webhook_event_id"] = in.event.ID
	if len(in.payload) > 0 {
		fields["last_webhook_payload"] = datatypes.JSON(in.payload)
	}

	changed, err := s.repos.Order.TransitionStatus(ctx, in.order.OrderID, to, allowedFrom[to], fields)
	if err != nil {
		return fmt.Errorf("failed to update order %s to %s: %w", in.order.OrderID, to, err)
	}

	order, err := s.repos.Order.GetByOrderID(ctx, in.order.OrderID)
	if err != nil {
		return fmt.Errorf("failed to reload order %s: %w", in.order.OrderID, err)
	}
	in.order = order
	res.Status = order.PaymentStatus
	res.StatusChanged = changed

	if changed {
		log.Infof("[Reconcile] Order %s: %s -> %s (%s %s)", order.OrderID, res.PreviousStatus, to, in.event.Type, in.event.ID)
	} else {
		log.Infof("[Reconcile] Order %s stays %s, %s %s does not apply", order.OrderID, order.PaymentStatus, in.event.Type, in.event.ID)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, kind string, order *models.Order, update realtime.OrderUpdate) {
	if s.publisher == nil {
		return
	}
	update.OrderID = order.OrderID
	update.PaymentStatus = order.PaymentStatus
	update.Amount = order.Amount
	update.CustomerName = order.CustomerName
	update.UpdatedAt = s.now()

	err := s.publisher.Publish(ctx, realtime.Broadcast{Kind: kind, Update: update, At: update.UpdatedAt})
	if err != nil {
		log.Errorf("[Reconcile] Broadcast for order %s failed: %v", order.OrderID, err)
	}
}

func paymentRef(payment *models.Payment, in *input) string {
	if payment != nil && payment.ProviderPaymentID != nil {
		return *payment.ProviderPaymentID
	}
	if in.event.Payment != nil {
		return in.event.Payment.ID
	}
	return in.order.PaymentID
}
