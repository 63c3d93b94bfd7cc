package middleware

import (
	"context"
	"strings"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/validation"

	"github.com/gofiber/fiber/v2"
)

// Identity header names. The handshake is anonymous, so the caller asserts
// its own id; there is no credential to verify.
const (
	HeaderUserID   = "X-User-ID"
	HeaderNickname = "X-Nickname"
)

// IdentityRequired ensures every request carries a usable anonymous identity
// and stores it in c.Locals("userID") and c.Locals("nickname").
func IdentityRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get(HeaderUserID))
		if userID == "" {
			return models.RespondWithError(c, fiber.StatusUnauthorized,
				models.NewForbiddenError("Identity required: set the "+HeaderUserID+" header"))
		}
		if err := validation.ValidateUserID(userID); err != nil {
			return models.RespondWithAppError(c, models.NewInvalidStateError(err.Error()))
		}

		nickname := strings.TrimSpace(c.Get(HeaderNickname))
		if nickname == "" {
			nickname = userID
		}
		if err := validation.ValidateNickname(nickname); err != nil {
			return models.RespondWithAppError(c, models.NewInvalidStateError(err.Error()))
		}

		c.Locals("userID", userID)
		c.Locals("nickname", nickname)
		ctx := context.WithValue(c.UserContext(), UserIDKey, userID)
		c.SetUserContext(ctx)

		return c.Next()
	}
}
