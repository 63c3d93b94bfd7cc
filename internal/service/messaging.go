package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mstfsonmez/ghostly-backend/internal/middleware"
	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"

	"github.com/redis/go-redis/v9"
)

// Direct delivery statuses reported back to the sender.
const (
	StatusDelivered = "delivered"
	StatusQueued    = "queued"
)

const (
	typingLimit  = 20
	typingWindow = 10 * time.Second
)

// UserNotifier reaches a single user's live connection.
type UserNotifier interface {
	ToUser(userID string, ev notifications.Event) bool
}

// DirectMessageInput is the body of send_direct.
type DirectMessageInput struct {
	RecipientID string `json:"recipient_id"`
	Message     string `json:"message"`
	Image       string `json:"image"`
	Video       string `json:"video"`
}

// DirectMessageResult is the receipt returned to the sender.
type DirectMessageResult struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// MessagingService fans out direct messages and typing indicators. Nothing
// is stored: an offline recipient simply misses the message.
type MessagingService struct {
	users UserNotifier
	rdb   *redis.Client
	now   func() time.Time
}

// NewMessagingService returns a new MessagingService. rdb may be nil.
func NewMessagingService(users UserNotifier, rdb *redis.Client, now func() time.Time) *MessagingService {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MessagingService{users: users, rdb: rdb, now: now}
}

// SendDirect delivers a message to the recipient when online and always
// sends the sender a message_sent receipt.
func (s *MessagingService) SendDirect(ctx context.Context, sender notifications.Identity, in DirectMessageInput) (DirectMessageResult, error) {
	if in.RecipientID == "" {
		return DirectMessageResult{}, models.NewInvalidStateError("recipient_id is required")
	}
	if in.Message == "" && in.Image == "" && in.Video == "" {
		return DirectMessageResult{}, models.NewInvalidStateError("message, image or video is required")
	}
	if utf8.RuneCountInString(in.Message) > maxMessageLength {
		return DirectMessageResult{}, models.NewInvalidStateError("Message must be at most 2000 characters")
	}

	now := s.now()
	id := fmt.Sprintf("%d_%s", now.UnixMilli(), sender.UserID)

	status := StatusQueued
	if s.users.ToUser(in.RecipientID, notifications.ReceiveMessage(notifications.DirectMessage{
		MessageID:      id,
		SenderID:       sender.UserID,
		SenderNickname: sender.Nickname,
		RecipientID:    in.RecipientID,
		Message:        in.Message,
		Image:          in.Image,
		Video:          in.Video,
		Timestamp:      now,
	})) {
		status = StatusDelivered
	}

	observability.DirectMessages.WithLabelValues(status).Inc()
	s.users.ToUser(sender.UserID, notifications.MessageSent(id, status))
	return DirectMessageResult{MessageID: id, Status: status}, nil
}

// Typing forwards a typing indicator. Indicators over the rate limit are
// dropped without error.
func (s *MessagingService) Typing(ctx context.Context, sender notifications.Identity, recipientID string, isTyping bool) error {
	if recipientID == "" {
		return models.NewInvalidStateError("recipient_id is required")
	}

	allowed, err := middleware.CheckRateLimit(ctx, s.rdb, "typing", sender.UserID, typingLimit, typingWindow)
	if err == nil && !allowed {
		observability.GlobalLogger.DebugContext(ctx, "typing indicator rate limited", "user_id", sender.UserID)
		return nil
	}

	s.users.ToUser(recipientID, notifications.UserTyping(sender, isTyping))
	return nil
}
