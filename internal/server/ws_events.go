package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"
	"github.com/mstfsonmez/ghostly-backend/internal/service"

	"go.opentelemetry.io/otel/codes"
)

// Inbound event types.
const (
	inBindIdentity    = "bind_identity"
	inJoinRoom        = "join_room"
	inLeaveRoom       = "leave_room"
	inSendDirect      = "send_direct"
	inSendRoomMessage = "send_room_message"
	inTyping          = "typing"
)

type inboundEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinRoomPayload struct {
	RoomID   string `json:"room_id"`
	Password string `json:"password"`
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

type leaveRoomPayload struct {
	RoomID string `json:"room_id"`
	Exit   bool   `json:"exit"`
}

type roomMessagePayload struct {
	RoomID  string `json:"room_id"`
	Message string `json:"message"`
}

type typingPayload struct {
	RecipientID string `json:"recipient_id"`
	IsTyping    bool   `json:"is_typing"`
}

// Optional features, on unless FEATURE_FLAGS turns them off.
const (
	flagDirectMessages = "direct_messages"
	flagTyping         = "typing"
)

var errNotBound = models.NewForbiddenError("Bind an identity before using rooms or messages")

// handleEvent decodes one inbound frame and dispatches it. Failures are
// reported to the sender as an error event; the connection stays open.
func (s *Server) handleEvent(c *notifications.Client, raw []byte) {
	var ev inboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil || ev.Type == "" {
		c.SendEvent(notifications.ErrorEvent(models.CodeInvalidState, "Invalid message format"))
		return
	}

	ctx := observability.WithCorrelationID(context.Background(), observability.GenerateCorrelationID())
	ctx, span := observability.StartWebSocketSpan(ctx, ev.Type, c.ID)
	defer span.End()

	caller, _ := s.registry.Resolve(c.ID)
	s.wsLog.LogMessage(ctx, c.ID, caller.UserID, ev.Type)

	err := s.dispatch(ctx, c, ev)
	if err == nil {
		observability.WebSocketEventsTotal.WithLabelValues(ev.Type).Inc()
		return
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	var appErr *models.AppError
	if !errors.As(err, &appErr) {
		if bound, ok := s.registry.Resolve(c.ID); ok {
			caller = bound
		}
		s.wsLog.LogError(ctx, c.ID, caller.UserID, err, ev.Type)
		appErr = models.NewInternalError(err)
	}
	c.SendEvent(notifications.ErrorEvent(appErr.Code, appErr.Message))
}

func (s *Server) dispatch(ctx context.Context, c *notifications.Client, ev inboundEvent) error {
	switch ev.Type {
	case inBindIdentity:
		var p notifications.Identity
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		return s.registry.Bind(ctx, c, p)

	case inJoinRoom:
		var p joinRoomPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		if p.RoomID == "" {
			return models.NewInvalidStateError("room_id is required")
		}
		me, err := s.ensureBound(ctx, c, notifications.Identity{UserID: p.UserID, Nickname: p.Nickname})
		if err != nil {
			return err
		}
		return s.wsJoinRoom(ctx, c, me, p)

	case inLeaveRoom:
		var p leaveRoomPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		if p.RoomID == "" {
			return models.NewInvalidStateError("room_id is required")
		}
		me, err := s.ensureBound(ctx, c, notifications.Identity{})
		if err != nil {
			return err
		}
		return s.wsLeaveRoom(ctx, me, p)

	case inSendDirect:
		var p service.DirectMessageInput
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		me, err := s.ensureBound(ctx, c, notifications.Identity{})
		if err != nil {
			return err
		}
		if !s.flags.EnabledOr(flagDirectMessages, me.UserID, true) {
			return models.NewForbiddenError("Direct messages are disabled")
		}
		_, err = s.messaging.SendDirect(ctx, me, p)
		return err

	case inSendRoomMessage:
		var p roomMessagePayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		if p.RoomID == "" {
			return models.NewInvalidStateError("room_id is required")
		}
		me, err := s.ensureBound(ctx, c, notifications.Identity{})
		if err != nil {
			return err
		}
		_, err = s.roomService.PostMessage(ctx, p.RoomID, me, p.Message)
		return err

	case inTyping:
		var p typingPayload
		if err := decodePayload(ev.Payload, &p); err != nil {
			return err
		}
		me, err := s.ensureBound(ctx, c, notifications.Identity{})
		if err != nil {
			return err
		}
		if !s.flags.EnabledOr(flagTyping, me.UserID, true) {
			return nil
		}
		return s.messaging.Typing(ctx, me, p.RecipientID, p.IsTyping)

	case inCallUser, inAnswerCall, inICECandidate, inEndCall:
		return s.relayCall(ctx, c, ev)

	default:
		return models.NewInvalidStateError("Unknown event type: " + ev.Type)
	}
}

// ensureBound returns the identity bound to c. A supplied identity that
// differs from the current binding is bound first.
func (s *Server) ensureBound(ctx context.Context, c *notifications.Client, supplied notifications.Identity) (notifications.Identity, error) {
	supplied.UserID = strings.TrimSpace(supplied.UserID)
	current, bound := s.registry.Resolve(c.ID)

	if supplied.UserID != "" && (!bound || current.UserID != supplied.UserID) {
		if err := s.registry.Bind(ctx, c, supplied); err != nil {
			return notifications.Identity{}, err
		}
		current, bound = s.registry.Resolve(c.ID)
	}
	if !bound {
		return notifications.Identity{}, errNotBound
	}
	return current, nil
}

func (s *Server) wsJoinRoom(ctx context.Context, c *notifications.Client, me notifications.Identity, p joinRoomPayload) error {
	res, err := s.roomService.JoinRoom(ctx, p.RoomID, me.UserID, p.Password)
	if err != nil {
		return err
	}

	s.registry.SubscribeRoom(me.UserID, p.RoomID)
	if !res.AlreadyMember {
		s.registry.ToRoom(p.RoomID, notifications.UserJoinedRoom(p.RoomID, me), me.UserID)
	}
	c.SendEvent(notifications.RoomJoined(s.roomResponse(res.Room)))
	return nil
}

// wsLeaveRoom stops delivery of the room to this connection. With exit the
// user also gives up membership, which closes the room when they are admin.
func (s *Server) wsLeaveRoom(ctx context.Context, me notifications.Identity, p leaveRoomPayload) error {
	if p.Exit {
		res, err := s.roomService.LeaveRoom(ctx, p.RoomID, me.UserID)
		if err != nil {
			return err
		}
		if res.RoomDeleted {
			return nil
		}
	}

	s.registry.RemoveFromRoom(me.UserID, p.RoomID)
	s.registry.ToRoom(p.RoomID, notifications.UserLeftRoom(p.RoomID, me), me.UserID)
	return nil
}

func decodePayload(raw json.RawMessage, dst interface{}) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return models.NewInvalidStateError("Invalid payload")
	}
	return nil
}
