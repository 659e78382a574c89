package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
	"github.com/ManuelReschke/PayFox/internal/pkg/mail"
)

type fakeSender struct {
	sent []mail.Message
	err  error
}

func (f *fakeSender) Send(_ context.Context, msg mail.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []*kafka.Message
	events   chan kafka.Event
	flushed  bool
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{events: make(chan kafka.Event, 1)}
}

func (f *fakeProducer) Produce(msg *kafka.Message, _ chan kafka.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }

func (f *fakeProducer) Flush(int) int {
	f.flushed = true
	return 0
}

func (f *fakeProducer) Close() { close(f.events) }

func samplePurchase() *models.Purchase {
	return &models.Purchase{
		ID:                "11111111-2222-3333-4444-555555555555",
		OrderID:           "ORD123",
		ProviderPaymentID: "pay_1",
		CustomerName:      "Jane Doe",
		CustomerEmail:     "jane@example.com",
		Items:             datatypes.JSON(`[{"name":"Mug"},{"name":"Tee"}]`),
		Amount:            decimal.RequireFromString("500"),
		Currency:          "INR",
		PaymentMethod:     "upi",
		WebhookEventID:    "evt_1",
	}
}

func TestNotifier_SendsConfirmationAndEvent(t *testing.T) {
	sender := &fakeSender{}
	producer := newFakeProducer()
	stream := NewStreamPublisher(producer, "successful_payments")

	n := NewNotifier(sender, stream)
	require.NoError(t, n.PurchaseCreated(context.Background(), samplePurchase()))
	stream.Close()

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "jane@example.com", sender.sent[0].To)
	assert.Contains(t, sender.sent[0].Subject, "ORD123")
	assert.Contains(t, sender.sent[0].Text, "500.00 INR")

	require.Len(t, producer.messages, 1)
	msg := producer.messages[0]
	assert.Equal(t, "successful_payments", *msg.TopicPartition.Topic)
	assert.Equal(t, "ORD123", string(msg.Key))
	assert.True(t, producer.flushed)

	var ev PurchaseEvent
	require.NoError(t, json.Unmarshal(msg.Value, &ev))
	assert.Equal(t, "500.00", ev.Amount)
	assert.Equal(t, 2, ev.ItemCount)
	assert.Equal(t, "razorpay", ev.Provider)
	assert.Equal(t, "evt_1", ev.EventID)
}

func TestNotifier_JoinsErrors(t *testing.T) {
	boom := errors.New("smtp down")
	producer := newFakeProducer()
	stream := NewStreamPublisher(producer, "successful_payments")
	defer stream.Close()

	err := NewNotifier(&fakeSender{err: boom}, stream).PurchaseCreated(context.Background(), samplePurchase())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, producer.messages, 1, "a failed mail does not block the event")
}

func TestNotifier_SkipsMailWithoutAddress(t *testing.T) {
	sender := &fakeSender{}
	p := samplePurchase()
	p.CustomerEmail = ""

	require.NoError(t, NewNotifier(sender, nil).PurchaseCreated(context.Background(), p))
	assert.Empty(t, sender.sent)
}

func TestSMTPMailer_RequiresConfiguration(t *testing.T) {
	err := mail.NewSMTPMailer(config.MailConfig{Port: "587"}).Send(context.Background(), mail.Message{To: "a@b.c"})
	assert.ErrorIs(t, err, mail.ErrNotConfigured)
}

func TestCountItems(t *testing.T) {
	assert.Equal(t, 0, countItems(nil))
	assert.Equal(t, 0, countItems([]byte(`{"not":"a list"}`)))
	assert.Equal(t, 3, countItems([]byte(`[1,2,3]`)))
}
