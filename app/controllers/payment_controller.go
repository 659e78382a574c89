package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/app/repository"
	"github.com/ManuelReschke/PayFox/internal/pkg/money"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/reconcile"
)

// OrderItem is one line of a checkout order.
type OrderItem struct {
	ID       string          `json:"id"`
	Name     string          `json:"name" validate:"required,max=191"`
	Quantity int             `json:"quantity" validate:"required,gte=1"`
	Price    decimal.Decimal `json:"price"`
}

// CreateOrderRequest is the body of POST /api/payment/create-order.
type CreateOrderRequest struct {
	OrderID         string                 `json:"orderId" validate:"omitempty,max=64"`
	CustomerName    string                 `json:"customerName" validate:"required,max=191"`
	CustomerEmail   string                 `json:"customerEmail" validate:"required,email"`
	CustomerPhone   string                 `json:"customerPhone" validate:"required,len=10,numeric"`
	Items           []OrderItem            `json:"items" validate:"required,min=1,dive"`
	Amount          decimal.Decimal        `json:"amount"`
	Currency        string                 `json:"currency" validate:"omitempty,len=3"`
	ProviderOrderID string                 `json:"razorpayOrderId" validate:"omitempty,max=64"`
	ShippingAddress map[string]interface{} `json:"shippingAddress"`
}

// CompletePaymentRequest is the optional body of a manual completion.
type CompletePaymentRequest struct {
	PaymentID string `json:"paymentId"`
	Method    string `json:"method"`
}

// VerifyPaymentRequest is the checkout callback the browser forwards after
// the gateway's payment form closes.
type VerifyPaymentRequest struct {
	ProviderOrderID   string `json:"razorpay_order_id" validate:"required,max=64"`
	ProviderPaymentID string `json:"razorpay_payment_id" validate:"required,max=64"`
	Signature         string `json:"razorpay_signature" validate:"required"`
	OrderID           string `json:"orderId" validate:"omitempty,max=64"`
}

// PaymentController serves order creation, status polling, client payment
// verification and manual completion.
type PaymentController struct {
	repos         *repository.Repositories
	reconciler    *reconcile.Service
	validate      *validator.Validate
	keySecret     string
	statusTimeout time.Duration
	now           func() time.Time
}

// NewPaymentController creates the controller. keySecret is the gateway API
// key secret checkout callbacks are signed with.
func NewPaymentController(repos *repository.Repositories, reconciler *reconcile.Service, keySecret string, statusTimeout time.Duration) *PaymentController {
	return &PaymentController{
		repos:         repos,
		reconciler:    reconciler,
		validate:      validator.New(),
		keySecret:     keySecret,
		statusTimeout: statusTimeout,
		now:           time.Now,
	}
}

// HandleStatus is the pull-based catch-up for clients that missed a push.
func (pc *PaymentController) HandleStatus(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c, pc.statusTimeout)
	defer cancel()

	order, err := pc.repos.Order.FindByAnyID(ctx, c.Params("orderId"))
	if err != nil {
		return pc.lookupError(c, ctx, err)
	}

	return c.JSON(fiber.Map{
		"status":          order.PaymentStatus,
		"orderId":         order.OrderID,
		"razorpayOrderId": order.ProviderOrderID,
		"amount":          order.Amount,
		"currency":        order.Currency,
		"paymentId":       order.PaymentID,
		"updatedAt":       order.UpdatedAt,
	})
}

// HandleCheckStatus returns the order together with its payment attempts.
func (pc *PaymentController) HandleCheckStatus(c *fiber.Ctx) error {
	ctx, cancel := withTimeout(c, pc.statusTimeout)
	defer cancel()

	order, err := pc.repos.Order.FindByAnyID(ctx, c.Params("orderId"))
	if err != nil {
		return pc.lookupError(c, ctx, err)
	}
	payments, err := pc.repos.Payment.ListByOrder(ctx, order.OrderID)
	if err != nil {
		return pc.lookupError(c, ctx, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"status":   order.PaymentStatus,
		"order":    order,
		"payments": payments,
	})
}

func (pc *PaymentController) lookupError(c *fiber.Ctx, ctx context.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Order not found")
	case isTimeout(ctx, err):
		log.Warnf("[Payment] Status lookup timed out: %v", err)
		return serviceUnavailable(c)
	default:
		log.Errorf("[Payment] Status lookup failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Failed to load order")
	}
}

// HandleVerify checks the checkout callback signature. A verified callback
// only records the gateway ids on a pending order; the captured webhook stays
// the one that completes it.
func (pc *PaymentController) HandleVerify(c *fiber.Ctx) error {
	if pc.keySecret == "" {
		log.Warn("[Payment] RAZORPAY_KEY_SECRET is empty, cannot verify checkout callbacks")
		return jsonError(c, fiber.StatusServiceUnavailable, "not_configured", "Payment verification is not configured")
	}

	var req VerifyPaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid request body")
	}
	if err := pc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}
	if !razorpay.VerifyPaymentSignature(req.ProviderOrderID, req.ProviderPaymentID, req.Signature, pc.keySecret) {
		log.Warnf("[Payment] Invalid checkout signature for %s / %s", req.ProviderOrderID, req.ProviderPaymentID)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "error",
			"error":   "invalid_signature",
			"message": "Invalid signature",
		})
	}

	resp := fiber.Map{"status": "success", "verified": true}
	if req.OrderID == "" {
		return c.JSON(resp)
	}

	ctx, cancel := withTimeout(c, pc.statusTimeout)
	defer cancel()

	order, err := pc.repos.Order.FindByAnyID(ctx, req.OrderID)
	if err != nil {
		return pc.lookupError(c, ctx, err)
	}

	fields := map[string]interface{}{"payment_id": req.ProviderPaymentID}
	if order.ProviderOrderID == "" {
		fields["provider_order_id"] = req.ProviderOrderID
	}
	pending := []string{models.OrderStatusPending}
	if _, err := pc.repos.Order.TransitionStatus(ctx, order.OrderID, models.OrderStatusPending, pending, fields); err != nil {
		return pc.lookupError(c, ctx, err)
	}

	meta := requestMetadata(c)
	entry := &models.PaymentLog{
		OrderID:           order.OrderID,
		PaymentID:         req.ProviderPaymentID,
		ProviderOrderID:   req.ProviderOrderID,
		ProviderPaymentID: req.ProviderPaymentID,
		Status:            order.PaymentStatus,
		Amount:            money.ToSubunits(order.Amount),
		Currency:          order.Currency,
		EventType:         models.LogEventClientVerified,
		Source:            models.LogSourceAPI,
		IPAddress:         meta.ClientIP(),
		UserAgent:         meta.UserAgent,
	}
	if _, err := pc.repos.PaymentLog.Create(ctx, entry); err != nil {
		log.Errorf("[Payment] Payment log for verified callback on %s failed: %v", order.OrderID, err)
	}

	resp["orderId"] = order.OrderID
	resp["paymentStatus"] = order.PaymentStatus
	return c.JSON(resp)
}

// HandleCompletePayment marks an order paid without a webhook.
func (pc *PaymentController) HandleCompletePayment(c *fiber.Ctx) error {
	var req CompletePaymentRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid request body")
		}
	}
	meta := requestMetadata(c)

	order, payment, err := pc.reconciler.CompleteManually(c.UserContext(), reconcile.ManualCompletion{
		OrderID:   c.Params("orderId"),
		PaymentID: req.PaymentID,
		Method:    req.Method,
		IPAddress: meta.ClientIP(),
		UserAgent: meta.UserAgent,
	})
	switch {
	case errors.Is(err, reconcile.ErrOrderNotFound):
		return jsonError(c, fiber.StatusNotFound, "not_found", "Order not found")
	case errors.Is(err, reconcile.ErrAlreadyPaid):
		return jsonError(c, fiber.StatusConflict, "already_paid", "Order is already paid")
	case err != nil:
		log.Errorf("[Payment] Manual completion of %s failed: %v", c.Params("orderId"), err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Failed to complete payment")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Payment completed",
		"order":   order,
		"payment": payment,
	})
}

// HandleCreateOrder stores a pending checkout order.
func (pc *PaymentController) HandleCreateOrder(c *fiber.Ctx) error {
	var req CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", "Invalid request body")
	}
	if err := pc.validate.Struct(req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", validationMessage(err))
	}
	if !req.Amount.IsPositive() {
		return jsonError(c, fiber.StatusBadRequest, "validation_failed", "amount must be greater than zero")
	}

	order, err := pc.newOrder(&req)
	if err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_body", err.Error())
	}

	ctx := c.UserContext()
	if err := pc.repos.Order.Create(ctx, order); err != nil {
		if repository.IsDuplicate(err) {
			return jsonError(c, fiber.StatusConflict, "duplicate_order", "Order already exists")
		}
		log.Errorf("[Payment] Failed to create order %s: %v", order.OrderID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "Failed to create order")
	}

	meta := requestMetadata(c)
	entry := &models.PaymentLog{
		OrderID:         order.OrderID,
		ProviderOrderID: order.ProviderOrderID,
		Status:          models.LogStatusCreated,
		Amount:          money.ToSubunits(order.Amount),
		Currency:        order.Currency,
		CustomerName:    order.CustomerName,
		CustomerEmail:   order.CustomerEmail,
		CustomerPhone:   order.CustomerPhone,
		EventType:       models.LogEventOrderCreated,
		Source:          models.LogSourceAPI,
		IPAddress:       meta.ClientIP(),
		UserAgent:       meta.UserAgent,
	}
	if _, err := pc.repos.PaymentLog.Create(ctx, entry); err != nil {
		log.Errorf("[Payment] Payment log for new order %s failed: %v", order.OrderID, err)
	}

	log.Infof("[Payment] Order %s created (%s %s)", order.OrderID, money.Display(order.Amount), order.Currency)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"order":   order,
	})
}

func (pc *PaymentController) newOrder(req *CreateOrderRequest) (*models.Order, error) {
	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, err
	}
	order := &models.Order{
		OrderID:         strings.TrimSpace(req.OrderID),
		Amount:          req.Amount.Round(2),
		Currency:        strings.ToUpper(req.Currency),
		CustomerName:    req.CustomerName,
		CustomerEmail:   req.CustomerEmail,
		CustomerPhone:   req.CustomerPhone,
		Items:           datatypes.JSON(items),
		ProviderOrderID: req.ProviderOrderID,
		PaymentStatus:   models.OrderStatusPending,
	}
	if order.OrderID == "" {
		order.OrderID = fmt.Sprintf("ORD%d", pc.now().UnixMilli())
	}
	if order.Currency == "" {
		order.Currency = "INR"
	}
	if req.ShippingAddress != nil {
		address, err := json.Marshal(req.ShippingAddress)
		if err != nil {
			return nil, err
		}
		order.ShippingAddress = datatypes.JSON(address)
	}
	return order, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(fields, "; ")
}
