package server

import (
	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateRoom handles POST /api/rooms
func (s *Server) CreateRoom(c *fiber.Ctx) error {
	var in service.CreateRoomInput
	if err := parseBody(c, &in); err != nil {
		return nil
	}

	me := identity(c)
	room, err := s.roomService.CreateRoom(c.UserContext(), me.UserID, in)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	s.registry.SubscribeRoom(me.UserID, room.ID)

	return c.Status(fiber.StatusCreated).JSON(s.roomResponse(room))
}

// ListRooms handles GET /api/rooms?visibility=&search=
func (s *Server) ListRooms(c *fiber.Ctx) error {
	rooms, err := s.roomService.ListRooms(c.UserContext(), service.ListRoomsInput{
		Visibility: c.Query("visibility"),
		Search:     c.Query("search"),
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(s.roomResponses(rooms))
}

// GetRoom handles GET /api/rooms/:id
func (s *Server) GetRoom(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}

	room, err := s.roomService.GetRoom(c.UserContext(), id)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(s.roomResponse(room))
}

// JoinRoom handles POST /api/rooms/:id/join
func (s *Server) JoinRoom(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Password string `json:"password"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	me := identity(c)
	res, err := s.roomService.JoinRoom(c.UserContext(), id, me.UserID, req.Password)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	s.registry.SubscribeRoom(me.UserID, id)

	return c.JSON(fiber.Map{
		"room":           s.roomResponse(res.Room),
		"already_member": res.AlreadyMember,
	})
}

// LeaveRoom handles POST /api/rooms/:id/leave
func (s *Server) LeaveRoom(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}

	res, err := s.roomService.LeaveRoom(c.UserContext(), id, identity(c).UserID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// KickUser handles POST /api/rooms/:id/kick
func (s *Server) KickUser(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}
	var req struct {
		UserID string `json:"user_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.UserID == "" {
		return models.RespondWithAppError(c, models.NewInvalidStateError("user_id is required"))
	}

	res, err := s.roomService.KickUser(c.UserContext(), id, identity(c).UserID, req.UserID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// TransferAdmin handles POST /api/rooms/:id/transfer-admin
func (s *Server) TransferAdmin(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}
	var req struct {
		NewAdminID string `json:"new_admin_id"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	if req.NewAdminID == "" {
		return models.RespondWithAppError(c, models.NewInvalidStateError("new_admin_id is required"))
	}

	room, err := s.roomService.TransferAdmin(c.UserContext(), id, identity(c).UserID, req.NewAdminID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(s.roomResponse(room))
}

// DeleteRoom handles DELETE /api/rooms/:id
func (s *Server) DeleteRoom(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}

	if err := s.roomService.DeleteRoom(c.UserContext(), id, identity(c).UserID); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetRoomMessages handles GET /api/rooms/:id/messages?limit=
func (s *Server) GetRoomMessages(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}

	msgs, err := s.roomService.GetMessages(c.UserContext(), id, c.QueryInt("limit", 0))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(msgs)
}

// PostRoomMessage handles POST /api/rooms/:id/messages
func (s *Server) PostRoomMessage(c *fiber.Ctx) error {
	id, err := roomID(c)
	if err != nil {
		return nil
	}
	var req struct {
		Message string `json:"message"`
	}
	if err := parseBody(c, &req); err != nil {
		return nil
	}

	msg, err := s.roomService.PostMessage(c.UserContext(), id, identity(c), req.Message)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// GetMyChannels handles GET /api/users/me/channels
func (s *Server) GetMyChannels(c *fiber.Ctx) error {
	channels, err := s.roomService.UserChannels(c.UserContext(), identity(c).UserID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if channels == nil {
		channels = []models.ChannelSummary{}
	}
	return c.JSON(channels)
}

// GetOnlineUsers handles GET /api/presence/online
func (s *Server) GetOnlineUsers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"users": s.registry.OnlineUsers()})
}

// GetFeatures reports which optional features are on for the caller.
func (s *Server) GetFeatures(c *fiber.Ctx) error {
	me := identity(c)
	return c.JSON(fiber.Map{
		"features": fiber.Map{
			flagDirectMessages: s.flags.EnabledOr(flagDirectMessages, me.UserID, true),
			flagTyping:         s.flags.EnabledOr(flagTyping, me.UserID, true),
			flagCalls:          s.flags.EnabledOr(flagCalls, me.UserID, true),
		},
	})
}
