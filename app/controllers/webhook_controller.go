package controllers

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/internal/pkg/jobqueue"
	"github.com/ManuelReschke/PayFox/internal/pkg/razorpay"
	"github.com/ManuelReschke/PayFox/internal/pkg/webhook"
)

const SignatureHeader = "X-Razorpay-Signature"

// QueueInspector reports queue depth.
type QueueInspector interface {
	Stats(ctx context.Context) (*jobqueue.Stats, error)
}

// WebhookController accepts gateway webhooks and hands them to the queue.
type WebhookController struct {
	intake           *webhook.Intake
	queue            QueueInspector
	secretConfigured bool
}

func NewWebhookController(intake *webhook.Intake, queue QueueInspector, secretConfigured bool) *WebhookController {
	return &WebhookController{intake: intake, queue: queue, secretConfigured: secretConfigured}
}

// HandleWebhook answers once the event is queued, never after processing.
func (wc *WebhookController) HandleWebhook(c *fiber.Ctx) error {
	acc, err := wc.intake.Accept(c.UserContext(), c.Body(), c.Get(SignatureHeader), requestMetadata(c))
	switch {
	case errors.Is(err, webhook.ErrMissingSignature):
		return jsonError(c, fiber.StatusBadRequest, "missing_signature", "Missing webhook signature")
	case errors.Is(err, webhook.ErrInvalidJSON):
		return jsonError(c, fiber.StatusBadRequest, "invalid_json", "Invalid JSON payload")
	case errors.Is(err, webhook.ErrSignatureInvalid):
		log.Warnf("[Webhook] Rejected webhook with invalid signature from %s", c.IP())
		return jsonError(c, fiber.StatusUnauthorized, "invalid_signature", "Invalid webhook signature")
	case errors.Is(err, razorpay.ErrMalformedEvent),
		errors.Is(err, razorpay.ErrMissingPaymentData),
		errors.Is(err, razorpay.ErrMissingOrderData):
		return jsonError(c, fiber.StatusBadRequest, "malformed_payload", err.Error())
	case err != nil:
		log.Errorf("[Webhook] Failed to accept webhook: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "queue_error", "Failed to queue webhook")
	}

	if acc.Duplicate {
		return c.JSON(fiber.Map{
			"status":  "success",
			"message": "Duplicate event ignored",
			"event":   acc.Event.Type,
		})
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"message": "Webhook queued for processing",
		"jobId":   acc.JobID,
		"event":   acc.Event.Type,
	})
}

// HandleWebhookStatus is a configuration check for operators.
func (wc *WebhookController) HandleWebhookStatus(c *fiber.Ctx) error {
	resp := fiber.Map{
		"webhookSecretConfigured": wc.secretConfigured,
		"signatureHeader":         SignatureHeader,
		"endpoint":                "/api/payment/webhook",
		"supportedEvents": []razorpay.EventType{
			razorpay.EventPaymentAuthorized,
			razorpay.EventPaymentCaptured,
			razorpay.EventPaymentFailed,
			razorpay.EventOrderPaid,
		},
	}

	if wc.queue != nil {
		ctx, cancel := withTimeout(c, 0)
		defer cancel()
		stats, err := wc.queue.Stats(ctx)
		if err != nil {
			log.Warnf("[Webhook] Queue stats unavailable: %v", err)
			resp["queue"] = fiber.Map{"available": false}
		} else {
			resp["queue"] = fiber.Map{"available": true, "stats": stats}
		}
	}
	return c.JSON(resp)
}
