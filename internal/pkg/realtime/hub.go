package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
)

const defaultSendBuffer = 16

var ErrMissingOrderID = errors.New("order id is required")

// Publisher delivers a broadcast to the subscribers of an order.
type Publisher interface {
	Publish(ctx context.Context, b Broadcast) error
}

// Client is one websocket subscriber. Frames queue on Send; a client that
// does not keep up loses frames instead of blocking the hub.
type Client struct {
	ID   string
	Send chan []byte

	rooms map[string]struct{}
}

// Hub groups clients into order-scoped rooms. Delivery is best-effort and
// local to this process; see Relay for cross-process fan-out.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[*Client]struct{}
	sendBuffer int
}

func NewHub() *Hub {
	return &Hub{
		rooms:      make(map[string]map[*Client]struct{}),
		sendBuffer: defaultSendBuffer,
	}
}

// NewClient creates an unjoined client with a buffered send queue.
func (h *Hub) NewClient() *Client {
	return &Client{
		ID:    uuid.New().String(),
		Send:  make(chan []byte, h.sendBuffer),
		rooms: make(map[string]struct{}),
	}
}

func (h *Hub) Join(c *Client, orderID string) error {
	if orderID == "" {
		return ErrMissingOrderID
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	room, ok := h.rooms[orderID]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[orderID] = room
	}
	room[c] = struct{}{}
	c.rooms[orderID] = struct{}{}
	return nil
}

func (h *Hub) Leave(c *Client, orderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c, orderID)
}

// Remove drops the client from every room it joined.
func (h *Hub) Remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for orderID := range c.rooms {
		h.leaveLocked(c, orderID)
	}
}

func (h *Hub) leaveLocked(c *Client, orderID string) {
	if room, ok := h.rooms[orderID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, orderID)
		}
	}
	delete(c.rooms, orderID)
}

// RoomSize returns the number of clients subscribed to orderID.
func (h *Hub) RoomSize(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[orderID])
}

// Publish renders b and hands the frames to every client in the order's room.
func (h *Hub) Publish(ctx context.Context, b Broadcast) error {
	if b.Update.OrderID == "" {
		return ErrMissingOrderID
	}
	frames, err := b.frames()
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	room := h.rooms[b.Update.OrderID]
	for c := range room {
		for _, frame := range frames {
			select {
			case c.Send <- frame:
			default:
				log.Warnf("[Realtime] Dropping frame for slow client %s on order %s", c.ID, b.Update.OrderID)
			}
		}
	}
	if len(room) > 0 {
		log.Debugf("[Realtime] Delivered %s for order %s to %d client(s)", b.Kind, b.Update.OrderID, len(room))
	}
	return nil
}
