package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayFox/internal/pkg/realtime"
)

// registerPublicRoutes wires the realtime channel. Joining a room is not
// authenticated: anyone knowing an order id can follow its status.
func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	if h.deps.Realtime == nil {
		return
	}
	app.Use("/ws", realtime.UpgradeRequired)
	app.Get("/ws", h.deps.Realtime.HandleSocket())
	app.Get("/api/realtime/rooms/:orderId", h.deps.Realtime.HandleRoomSize)
}
