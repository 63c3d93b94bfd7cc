package notifications

import (
	"encoding/json"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
)

// Outbound event types.
const (
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventOnlineUsers        = "online_users"
	EventSessionReplaced    = "session_replaced"
	EventReceiveMessage     = "receive_message"
	EventMessageSent        = "message_sent"
	EventUserTyping         = "user_typing"
	EventUserJoinedRoom     = "user_joined_room"
	EventUserLeftRoom       = "user_left_room"
	EventRoomJoined         = "room_joined"
	EventReceiveRoomMessage = "receive_room_message"
	EventRoomCreated        = "room_created"
	EventRoomListUpdated    = "room_list_updated"
	EventRoomDeleted        = "room_deleted"
	EventRoomExpired        = "room_expired"
	EventRoomTimeUpdate     = "room_time_update"
	EventUserKicked         = "user_kicked"
	EventMessagesCleared    = "messages_cleared"
	EventAdminTransferred   = "admin_transferred"
	EventMessagesDropped    = "messages_dropped"
	EventError              = "error"

	EventIncomingCall = "incoming_call"
	EventCallAnswered = "call_answered"
	EventICECandidate = "ice_candidate"
	EventCallEnded    = "call_ended"
	EventCallFailed   = "call_failed"
)

// Room list update actions.
const (
	ListCreated      = "created"
	ListDeleted      = "deleted"
	ListExpired      = "expired"
	ListMemberJoined = "member_joined"
	ListMemberLeft   = "member_left"
	ListMemberKicked = "member_kicked"
	ListNewMessage   = "new_message"
)

// Room deletion reasons.
const (
	ReasonOwnerLeft    = "owner_left"
	ReasonAdminDeleted = "admin_deleted"
)

// Event is the envelope written to every websocket client.
type Event struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Encode marshals the event. Payloads are plain structs and maps, so a
// failure here is a programming error and yields an error event instead.
func (e Event) Encode() []byte {
	data, err := json.Marshal(e)
	if err != nil {
		data, _ = json.Marshal(ErrorEvent(models.CodeInternal, "failed to encode event"))
	}
	return data
}

// Identity is the anonymous user bound to a connection.
type Identity struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
}

func UserOnline(id Identity) Event  { return Event{Type: EventUserOnline, Payload: id} }
func UserOffline(id Identity) Event { return Event{Type: EventUserOffline, Payload: id} }

func OnlineUsers(users []Identity) Event {
	if users == nil {
		users = []Identity{}
	}
	return Event{Type: EventOnlineUsers, Payload: map[string]interface{}{"users": users}}
}

func SessionReplaced() Event {
	return Event{Type: EventSessionReplaced, Payload: map[string]string{
		"message": "Your session was opened on another connection",
	}}
}

func MessagesDropped(reason string) Event {
	return Event{Type: EventMessagesDropped, Payload: map[string]string{"reason": reason}}
}

func ErrorEvent(code, message string) Event {
	return Event{Type: EventError, Payload: map[string]string{"code": code, "message": message}}
}

// DirectMessage is the payload of receive_message.
type DirectMessage struct {
	MessageID      string    `json:"message_id"`
	SenderID       string    `json:"sender_id"`
	SenderNickname string    `json:"sender_nickname"`
	RecipientID    string    `json:"recipient_id"`
	Message        string    `json:"message,omitempty"`
	Image          string    `json:"image,omitempty"`
	Video          string    `json:"video,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

func ReceiveMessage(m DirectMessage) Event { return Event{Type: EventReceiveMessage, Payload: m} }

func MessageSent(messageID, status string) Event {
	return Event{Type: EventMessageSent, Payload: map[string]string{"message_id": messageID, "status": status}}
}

func UserTyping(sender Identity, isTyping bool) Event {
	return Event{Type: EventUserTyping, Payload: map[string]interface{}{
		"user_id":   sender.UserID,
		"nickname":  sender.Nickname,
		"is_typing": isTyping,
	}}
}

func UserJoinedRoom(roomID string, who Identity) Event {
	return Event{Type: EventUserJoinedRoom, Payload: map[string]string{
		"room_id": roomID, "user_id": who.UserID, "nickname": who.Nickname,
	}}
}

func UserLeftRoom(roomID string, who Identity) Event {
	return Event{Type: EventUserLeftRoom, Payload: map[string]string{
		"room_id": roomID, "user_id": who.UserID, "nickname": who.Nickname,
	}}
}

func RoomJoined(room models.RoomView) Event { return Event{Type: EventRoomJoined, Payload: room} }

func ReceiveRoomMessage(msg models.RoomMessage) Event {
	return Event{Type: EventReceiveRoomMessage, Payload: msg}
}

func RoomCreated(room models.RoomView) Event { return Event{Type: EventRoomCreated, Payload: room} }

func RoomListUpdated(action, roomID string) Event {
	return Event{Type: EventRoomListUpdated, Payload: map[string]string{"action": action, "room_id": roomID}}
}

func RoomDeleted(roomID, reason, message string) Event {
	return Event{Type: EventRoomDeleted, Payload: map[string]string{
		"room_id": roomID, "reason": reason, "message": message,
	}}
}

func RoomExpired(roomID string) Event {
	return Event{Type: EventRoomExpired, Payload: map[string]string{
		"room_id": roomID, "message": "This room has expired",
	}}
}

// RoomTimeUpdate carries the countdown for a live room.
func RoomTimeUpdate(roomID string, remaining time.Duration) Event {
	return Event{Type: EventRoomTimeUpdate, Payload: map[string]interface{}{
		"room_id":           roomID,
		"time_remaining":    remaining.Round(time.Second).String(),
		"seconds_remaining": int64(remaining / time.Second),
	}}
}

func UserKicked(roomID, userID, adminID string, bannedUntil time.Time) Event {
	return Event{Type: EventUserKicked, Payload: map[string]interface{}{
		"room_id":      roomID,
		"user_id":      userID,
		"kicked_by":    adminID,
		"banned_until": bannedUntil,
		"message":      "You were removed from the room",
	}}
}

func MessagesCleared(roomID, userID string, deleted int64) Event {
	return Event{Type: EventMessagesCleared, Payload: map[string]interface{}{
		"room_id": roomID, "kicked_user_id": userID, "deleted": deleted,
	}}
}

func AdminTransferred(roomID, oldAdmin, newAdmin string) Event {
	return Event{Type: EventAdminTransferred, Payload: map[string]string{
		"room_id": roomID, "old_admin_id": oldAdmin, "new_admin_id": newAdmin,
	}}
}

// Call signaling. Offers, answers and candidates are opaque to the server
// and are forwarded as the client sent them.

func IncomingCall(from Identity, offer json.RawMessage) Event {
	return Event{Type: EventIncomingCall, Payload: map[string]interface{}{
		"from":          from.UserID,
		"from_username": from.Nickname,
		"offer":         offer,
	}}
}

func CallAnswered(fromUserID string, answer json.RawMessage) Event {
	return Event{Type: EventCallAnswered, Payload: map[string]interface{}{"from": fromUserID, "answer": answer}}
}

func ICECandidate(fromUserID string, candidate json.RawMessage) Event {
	return Event{Type: EventICECandidate, Payload: map[string]interface{}{"from": fromUserID, "candidate": candidate}}
}

func CallEnded(fromUserID string) Event {
	return Event{Type: EventCallEnded, Payload: map[string]string{"from": fromUserID}}
}

func CallFailed(reason string) Event {
	return Event{Type: EventCallFailed, Payload: map[string]string{"reason": reason}}
}
