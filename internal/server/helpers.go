package server

import (
	"errors"
	"strings"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper.  Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// identity returns the caller set by IdentityRequired.
func identity(c *fiber.Ctx) notifications.Identity {
	userID, _ := c.Locals("userID").(string)
	nickname, _ := c.Locals("nickname").(string)
	return notifications.Identity{UserID: userID, Nickname: nickname}
}

// roomID extracts the :id route parameter.
// On failure it writes a 400 JSON response and returns errResponseWritten.
func roomID(c *fiber.Ctx) (string, error) {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		_ = models.RespondWithAppError(c, models.NewInvalidStateError("Invalid room ID"))
		return "", errResponseWritten
	}
	return id, nil
}

// parseBody decodes the JSON body into dst. On failure it writes a 400 JSON
// response and returns errResponseWritten.
func parseBody(c *fiber.Ctx, dst interface{}) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(dst); err != nil {
		_ = models.RespondWithAppError(c, models.NewInvalidStateError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// roomResponse renders a room for the caller at the coordinator's clock.
func (s *Server) roomResponse(room *models.Room) models.RoomView {
	return room.View(s.roomService.Now())
}

func (s *Server) roomResponses(rooms []*models.Room) []models.RoomView {
	now := s.roomService.Now()
	out := make([]models.RoomView, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.View(now))
	}
	return out
}
