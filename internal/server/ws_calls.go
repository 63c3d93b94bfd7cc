package server

import (
	"context"
	"encoding/json"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"
)

// Call signaling event types.
const (
	inCallUser     = "call_user"
	inAnswerCall   = "answer_call"
	inICECandidate = "ice_candidate"
	inEndCall      = "end_call"
)

const flagCalls = "calls"

type callSignalPayload struct {
	To        string          `json:"to"`
	Offer     json.RawMessage `json:"offer"`
	Answer    json.RawMessage `json:"answer"`
	Candidate json.RawMessage `json:"candidate"`
}

// relayCall forwards one WebRTC signaling message to the peer's connection.
// Only call_user reports an offline peer back to the caller; the rest are
// dropped when the peer has gone.
func (s *Server) relayCall(ctx context.Context, c *notifications.Client, ev inboundEvent) error {
	var p callSignalPayload
	if err := decodePayload(ev.Payload, &p); err != nil {
		return err
	}
	me, err := s.ensureBound(ctx, c, notifications.Identity{})
	if err != nil {
		return err
	}
	if p.To == "" {
		return models.NewInvalidStateError("to is required")
	}
	if !s.flags.EnabledOr(flagCalls, me.UserID, true) {
		return models.NewForbiddenError("Calls are disabled")
	}

	var out notifications.Event
	switch ev.Type {
	case inCallUser:
		out = notifications.IncomingCall(me, p.Offer)
	case inAnswerCall:
		out = notifications.CallAnswered(me.UserID, p.Answer)
	case inICECandidate:
		out = notifications.ICECandidate(me.UserID, p.Candidate)
	default:
		out = notifications.CallEnded(me.UserID)
	}

	if s.registry.ToUser(p.To, out) {
		if ev.Type != inICECandidate {
			observability.GlobalLogger.InfoContext(ctx, "call signal relayed",
				"event_type", ev.Type, "from", me.UserID, "to", p.To)
		}
		return nil
	}
	if ev.Type == inCallUser {
		c.SendEvent(notifications.CallFailed("User offline"))
	}
	return nil
}
