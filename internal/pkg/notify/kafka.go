package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/PayFox/app/models"
	"github.com/ManuelReschke/PayFox/internal/pkg/config"
)

// PurchaseEvent is the message produced to the successful payments topic.
type PurchaseEvent struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	PaymentID     string `json:"payment_id"`
	UserEmail     string `json:"user_email"`
	UserName      string `json:"user_name"`
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Method        string `json:"method"`
	Provider      string `json:"provider"`
	ItemCount     int    `json:"item_count"`
	EventID       string `json:"event_id"`
}

// Producer is the part of *kafka.Producer the stream publisher uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// StreamPublisher produces purchase events keyed by order id.
type StreamPublisher struct {
	producer Producer
	topic    string
	done     chan struct{}
}

// NewKafkaProducer connects a producer to the configured brokers.
func NewKafkaProducer(cfg config.KafkaConfig) (*kafka.Producer, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return p, nil
}

func NewStreamPublisher(producer Producer, topic string) *StreamPublisher {
	s := &StreamPublisher{producer: producer, topic: topic, done: make(chan struct{})}
	go s.watchDeliveries()
	return s
}

func (s *StreamPublisher) watchDeliveries() {
	defer close(s.done)
	for ev := range s.producer.Events() {
		switch e := ev.(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				log.Errorf("[Notify] Delivery to %s failed: %v", s.topic, e.TopicPartition.Error)
			}
		case kafka.Error:
			log.Errorf("[Notify] Kafka error: %v", e)
		}
	}
}

func (s *StreamPublisher) Publish(ctx context.Context, purchase *models.Purchase) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(newPurchaseEvent(purchase))
	if err != nil {
		return err
	}
	topic := s.topic
	err = s.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(purchase.OrderID),
		Value:          value,
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to produce purchase %s: %w", purchase.ID, err)
	}
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (s *StreamPublisher) Close() {
	if remaining := s.producer.Flush(5000); remaining > 0 {
		log.Warnf("[Notify] %d purchase event(s) not delivered before shutdown", remaining)
	}
	s.producer.Close()
	<-s.done
}

func newPurchaseEvent(p *models.Purchase) PurchaseEvent {
	return PurchaseEvent{
		TransactionID: p.ID,
		OrderID:       p.OrderID,
		PaymentID:     p.ProviderPaymentID,
		UserEmail:     p.CustomerEmail,
		UserName:      p.CustomerName,
		Amount:        p.Amount.StringFixed(2),
		Currency:      p.Currency,
		Method:        p.PaymentMethod,
		Provider:      "razorpay",
		ItemCount:     countItems(p.Items),
		EventID:       p.WebhookEventID,
	}
}

func countItems(items []byte) int {
	var list []json.RawMessage
	if json.Unmarshal(items, &list) != nil {
		return 0
	}
	return len(list)
}
