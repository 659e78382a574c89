package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeFrame(t *testing.T, frame []byte) (string, map[string]interface{}) {
	t.Helper()
	var out struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frame, &out))
	return out.Type, out.Data
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case frame := <-c.Send:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func paymentBroadcast(orderID string) Broadcast {
	return Broadcast{
		Kind: KindPaymentStatus,
		Update: OrderUpdate{
			OrderID:       orderID,
			PaymentStatus: "completed",
			PaymentID:     "pay_1",
			Amount:        decimal.RequireFromString("500.00"),
		},
	}
}

func TestHub_PublishReachesOnlyJoinedClients(t *testing.T) {
	hub := NewHub()
	joined := hub.NewClient()
	other := hub.NewClient()
	require.NoError(t, hub.Join(joined, "ORD123"))
	require.NoError(t, hub.Join(other, "ORD999"))

	require.NoError(t, hub.Publish(context.Background(), paymentBroadcast("ORD123")))

	msgType, data := decodeFrame(t, receive(t, joined))
	assert.Equal(t, MessagePaymentStatusUpdate, msgType)
	assert.Equal(t, "ORD123", data["orderId"])
	assert.Equal(t, "completed", data["status"])
	assert.Equal(t, "pay_1", data["paymentId"])
	assert.NotEmpty(t, data["timestamp"])

	msgType, data = decodeFrame(t, receive(t, joined))
	assert.Equal(t, MessageOrderUpdate, msgType)
	assert.Equal(t, KindPaymentStatus, data["type"])

	assert.Empty(t, other.Send)
}

func TestHub_OrderStatusEmitsOnlyOrderUpdate(t *testing.T) {
	hub := NewHub()
	c := hub.NewClient()
	require.NoError(t, hub.Join(c, "ORD1"))

	b := paymentBroadcast("ORD1")
	b.Kind = KindOrderStatus
	require.NoError(t, hub.Publish(context.Background(), b))

	msgType, _ := decodeFrame(t, receive(t, c))
	assert.Equal(t, MessageOrderUpdate, msgType)
	assert.Empty(t, c.Send)
}

func TestHub_LeaveAndRemove(t *testing.T) {
	hub := NewHub()
	c := hub.NewClient()
	require.NoError(t, hub.Join(c, "ORD1"))
	require.NoError(t, hub.Join(c, "ORD2"))
	assert.Equal(t, 1, hub.RoomSize("ORD1"))

	hub.Leave(c, "ORD1")
	assert.Equal(t, 0, hub.RoomSize("ORD1"))
	assert.Equal(t, 1, hub.RoomSize("ORD2"))

	hub.Remove(c)
	assert.Equal(t, 0, hub.RoomSize("ORD2"))

	assert.ErrorIs(t, hub.Join(c, ""), ErrMissingOrderID)
}

func TestHub_SlowClientDropsFrames(t *testing.T) {
	hub := NewHub()
	c := hub.NewClient()
	require.NoError(t, hub.Join(c, "ORD1"))

	for i := 0; i < defaultSendBuffer*2; i++ {
		require.NoError(t, hub.Publish(context.Background(), paymentBroadcast("ORD1")))
	}
	assert.Len(t, c.Send, defaultSendBuffer)
}

func TestSession_Handle(t *testing.T) {
	hub := NewHub()
	s := NewSession(hub)

	msgType, data := decodeFrame(t, s.Handle([]byte(`{"type":"join-order","orderId":"ORD123"}`)))
	assert.Equal(t, MessageJoinedOrder, msgType)
	assert.Equal(t, "ORD123", data["orderId"])
	assert.Equal(t, true, data["success"])
	assert.Equal(t, 1, hub.RoomSize("ORD123"))

	msgType, data = decodeFrame(t, s.Handle([]byte(`{"type":"join-order"}`)))
	assert.Equal(t, MessageJoinedOrder, msgType)
	assert.Equal(t, false, data["success"])

	msgType, _ = decodeFrame(t, s.Handle([]byte(`{"type":"ping"}`)))
	assert.Equal(t, MessagePong, msgType)

	msgType, _ = decodeFrame(t, s.Handle([]byte(`not json`)))
	assert.Equal(t, MessageError, msgType)

	msgType, _ = decodeFrame(t, s.Handle([]byte(`{"type":"leave-order","orderId":"ORD123"}`)))
	assert.Equal(t, MessageLeftOrder, msgType)
	assert.Equal(t, 0, hub.RoomSize("ORD123"))

	require.NoError(t, hub.Join(s.Client(), "ORD5"))
	s.Close()
	assert.Equal(t, 0, hub.RoomSize("ORD5"))
}

func TestRelay_DeliversRedisBroadcasts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hub := NewHub()
	c := hub.NewClient()
	require.NoError(t, hub.Join(c, "ORD123"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan struct{})
	go NewRelay(client, "", hub).Run(ctx, ready)

	select {
	case <-ready:
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}

	require.NoError(t, NewRedisPublisher(client, "").Publish(ctx, paymentBroadcast("ORD123")))

	msgType, data := decodeFrame(t, receive(t, c))
	assert.Equal(t, MessagePaymentStatusUpdate, msgType)
	assert.Equal(t, "ORD123", data["orderId"])
}

func TestRelay_ResubscribesAfterRedisRestart(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	hub := NewHub()
	c := hub.NewClient()
	require.NoError(t, hub.Join(c, "ORD123"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	relay := NewRelay(client, "", hub)
	relay.SetBackoff(10*time.Millisecond, 50*time.Millisecond)
	ready := make(chan struct{})
	go relay.Run(ctx, ready)

	select {
	case <-ready:
		t.Fatal("relay subscribed while redis was down")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, mr.Restart())
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not resubscribe after restart")
	}

	require.NoError(t, NewRedisPublisher(client, "").Publish(ctx, paymentBroadcast("ORD123")))
	msgType, data := decodeFrame(t, receive(t, c))
	assert.Equal(t, MessagePaymentStatusUpdate, msgType)
	assert.Equal(t, "ORD123", data["orderId"])
}

func TestRedisPublisher_RequiresOrderID(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	err := NewRedisPublisher(client, "").Publish(context.Background(), Broadcast{})
	assert.ErrorIs(t, err, ErrMissingOrderID)
}
