package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
)

type RealtimeController struct {
	hub *realtime.Hub
}

func NewRealtimeController(hub *realtime.Hub) *RealtimeController {
	return &RealtimeController{hub: hub}
}

// HandleSocket upgrades to the order-scoped realtime channel.
func (rc *RealtimeController) HandleSocket() fiber.Handler {
	return realtime.Handler(rc.hub)
}

func (rc *RealtimeController) HandleRoomSize(c *fiber.Ctx) error {
	orderID := c.Params("orderId")
	return c.JSON(fiber.Map{"orderId": orderID, "clients": rc.hub.RoomSize(orderID)})
}
