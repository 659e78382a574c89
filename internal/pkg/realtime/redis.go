package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel order broadcasts travel on.
const DefaultChannel = "payfox:order-updates"

// RedisPublisher publishes broadcasts to Redis so every API process can
// deliver them to its own websocket clients.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, b Broadcast) error {
	if b.Update.OrderID == "" {
		return ErrMissingOrderID
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode broadcast: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish broadcast: %w", err)
	}
	return nil
}

// Relay subscribes to the broadcast channel and hands every message to a
// local hub.
type Relay struct {
	client     *redis.Client
	channel    string
	hub        *Hub
	minBackoff time.Duration
	maxBackoff time.Duration
}

const (
	relayMinBackoff = time.Second
	relayMaxBackoff = 30 * time.Second
)

var errSubscriptionClosed = errors.New("subscription closed")

func NewRelay(client *redis.Client, channel string, hub *Hub) *Relay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Relay{
		client:     client,
		channel:    channel,
		hub:        hub,
		minBackoff: relayMinBackoff,
		maxBackoff: relayMaxBackoff,
	}
}

// SetBackoff bounds the wait between subscribe attempts.
func (r *Relay) SetBackoff(initial, limit time.Duration) {
	if initial > 0 {
		r.minBackoff = initial
	}
	if limit >= r.minBackoff {
		r.maxBackoff = limit
	}
}

// Run relays messages until ctx is cancelled. A failed or dropped subscription
// is retried with a doubling backoff. ready, when non-nil, is closed once the
// first subscription is confirmed.
func (r *Relay) Run(ctx context.Context, ready chan<- struct{}) {
	backoff := r.minBackoff
	subscribed := func() {
		if ready != nil {
			close(ready)
			ready = nil
		}
		backoff = r.minBackoff
	}

	for {
		err := r.relay(ctx, subscribed)
		if ctx.Err() != nil {
			return
		}
		log.Errorf("[Realtime] Relay on %s interrupted, retrying in %s: %v", r.channel, backoff, err)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > r.maxBackoff {
			backoff = r.maxBackoff
		}
	}
}

func (r *Relay) relay(ctx context.Context, subscribed func()) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", r.channel, err)
	}
	subscribed()
	log.Infof("[Realtime] Relaying broadcasts from channel %s", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errSubscriptionClosed
			}
			var b Broadcast
			if err := json.Unmarshal([]byte(msg.Payload), &b); err != nil {
				log.Errorf("[Realtime] Discarding undecodable broadcast: %v", err)
				continue
			}
			if err := r.hub.Publish(ctx, b); err != nil {
				log.Errorf("[Realtime] Failed to deliver broadcast for order %s: %v", b.Update.OrderID, err)
			}
		}
	}
}
