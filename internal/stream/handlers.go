package stream

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// RegisterRoutes mounts the rider's event stream. authMiddleware must store
// the rider ID in the "user_id" local before the upgrade.
func RegisterRoutes(r fiber.Router, hub *Hub, authMiddleware fiber.Handler) {
	r.Get("/ws", authMiddleware, func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		if riderID, _ := c.Locals("user_id").(string); riderID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "rider identity missing")
		}
		return c.Next()
	}, websocket.New(func(c *websocket.Conn) {
		riderID, _ := c.Locals("user_id").(string)
		client := hub.Register(riderID)
		defer hub.Unregister(client)

		done := make(chan struct{})
		go func() {
			for msg := range client.Send {
				if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
					break
				}
			}
			close(done)
		}()

		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		hub.Unregister(client)
		<-done
	}))
}
