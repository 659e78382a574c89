package realtime

import (
	"encoding/json"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
)

// Session handles the messages of one connected client. Joining is by order
// id only and is not authenticated.
type Session struct {
	hub    *Hub
	client *Client
}

func NewSession(hub *Hub) *Session {
	return &Session{hub: hub, client: hub.NewClient()}
}

func (s *Session) Client() *Client {
	return s.client
}

// Handle processes one inbound frame and returns the direct reply, if any.
func (s *Session) Handle(raw []byte) []byte {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return s.reply(MessageError, fiber.Map{"message": "invalid message"})
	}

	switch in.Type {
	case MessageJoinOrder:
		if err := s.hub.Join(s.client, in.OrderID); err != nil {
			return s.reply(MessageJoinedOrder, JoinAck{OrderID: in.OrderID, Success: false, Error: err.Error()})
		}
		log.Debugf("[Realtime] Client %s joined order %s", s.client.ID, in.OrderID)
		return s.reply(MessageJoinedOrder, JoinAck{OrderID: in.OrderID, Success: true})
	case MessageLeaveOrder:
		s.hub.Leave(s.client, in.OrderID)
		return s.reply(MessageLeftOrder, JoinAck{OrderID: in.OrderID, Success: true})
	case MessagePing:
		return s.reply(MessagePong, fiber.Map{"timestamp": time.Now().UTC()})
	default:
		return s.reply(MessageError, fiber.Map{"message": "unsupported message type", "type": in.Type})
	}
}

// Close removes the client from all rooms.
func (s *Session) Close() {
	s.hub.Remove(s.client)
}

func (s *Session) reply(msgType string, data interface{}) []byte {
	frame, err := encode(msgType, data)
	if err != nil {
		log.Errorf("[Realtime] Failed to encode %s reply: %v", msgType, err)
		return nil
	}
	return frame
}

// UpgradeRequired rejects plain HTTP requests on the websocket route.
func UpgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// Handler serves websocket sessions against hub.
func Handler(hub *Hub) fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		session := NewSession(hub)
		defer session.Close()

		done := make(chan struct{})
		defer close(done)

		replies := make(chan []byte, 4)
		go writeLoop(conn, session.Client().Send, replies, done)

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("[Realtime] Client %s read error: %v", session.Client().ID, err)
				}
				return
			}
			if reply := session.Handle(raw); reply != nil {
				select {
				case replies <- reply:
				case <-done:
					return
				}
			}
		}
	})
}

// writeLoop is the only writer on conn.
func writeLoop(conn *websocket.Conn, updates <-chan []byte, replies <-chan []byte, done <-chan struct{}) {
	for {
		var frame []byte
		select {
		case <-done:
			return
		case frame = <-replies:
		case frame = <-updates:
		}
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Debugf("[Realtime] Write failed, closing: %v", err)
			_ = conn.Close()
			return
		}
	}
}
