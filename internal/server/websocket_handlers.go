package server

import (
	"github.com/mstfsonmez/ghostly-backend/internal/middleware"
	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// WebSocketUpgrade rejects plain HTTP requests to the socket endpoint.
func (s *Server) WebSocketUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// WebSocketHandler registers each connection with the hub. The connection is
// anonymous until it sends bind_identity or a join_room carrying an identity.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		client, err := s.hub.Register(conn)
		if err != nil {
			middleware.Logger.Warn("websocket registration refused", "error", err.Error())
			_ = conn.WriteMessage(websocket.TextMessage,
				notifications.ErrorEvent(models.CodeTransientIO, err.Error()).Encode())
			_ = conn.Close()
			return
		}

		client.IncomingHandler = s.handleEvent

		// Start write pump in a goroutine
		go client.WritePump()

		// Read pump blocks; on return the hub unregisters the client and
		// presence unbinds it.
		client.ReadPump()
	})
}
