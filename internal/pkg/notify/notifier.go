package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/template"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/mail"
)

// PurchasePublisher forwards a created purchase to a downstream system.
type PurchasePublisher interface {
	Publish(ctx context.Context, purchase *models.Purchase) error
}

var confirmationText = template.Must(template.New("confirmation").Parse(`Hello {{.CustomerName}},

thank you for your order {{.OrderID}}.

We received your payment of {{.Amount.StringFixed 2}} {{.Currency}} (payment {{.ProviderPaymentID}}).
Your order is now being prepared.
`))

// Notifier tells the customer and downstream consumers about new purchases.
// Either side may be nil.
type Notifier struct {
	mailer    mail.Sender
	publisher PurchasePublisher
}

func NewNotifier(mailer mail.Sender, publisher PurchasePublisher) *Notifier {
	return &Notifier{mailer: mailer, publisher: publisher}
}

// PurchaseCreated runs every configured channel and joins their errors.
func (n *Notifier) PurchaseCreated(ctx context.Context, purchase *models.Purchase) error {
	var errs []error

	if n.mailer != nil && purchase.CustomerEmail != "" {
		if err := n.sendConfirmation(ctx, purchase); err != nil {
			errs = append(errs, fmt.Errorf("confirmation mail: %w", err))
		}
	}
	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, purchase); err != nil {
			errs = append(errs, fmt.Errorf("purchase event: %w", err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	log.Debugf("[Notify] Purchase %s for order %s announced", purchase.ID, purchase.OrderID)
	return nil
}

func (n *Notifier) sendConfirmation(ctx context.Context, purchase *models.Purchase) error {
	var body bytes.Buffer
	if err := confirmationText.Execute(&body, purchase); err != nil {
		return err
	}
	return n.mailer.Send(ctx, mail.Message{
		To:      purchase.CustomerEmail,
		Subject: fmt.Sprintf("Payment received for order %s", purchase.OrderID),
		Text:    body.String(),
	})
}
