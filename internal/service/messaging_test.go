package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessagingService_SendDirect(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	alice := notifications.Identity{UserID: "alice", Nickname: "Alice"}

	t.Run("Delivered", func(t *testing.T) {
		bc := newRecordingBroadcaster()
		bc.online["bob"] = true
		svc := NewMessagingService(bc, nil, func() time.Time { return at })

		res, err := svc.SendDirect(context.Background(), alice, DirectMessageInput{RecipientID: "bob", Message: "hi"})
		require.NoError(t, err)
		assert.Equal(t, StatusDelivered, res.Status)
		assert.Equal(t, fmt.Sprintf("%d_alice", at.UnixMilli()), res.MessageID)

		require.Len(t, bc.sent, 2)
		assert.Equal(t, "bob", bc.sent[0].target)
		assert.Equal(t, notifications.EventReceiveMessage, bc.sent[0].event.Type)
		msg := bc.sent[0].event.Payload.(notifications.DirectMessage)
		assert.Equal(t, "Alice", msg.SenderNickname)
		assert.Equal(t, "hi", msg.Message)
		assert.Equal(t, at, msg.Timestamp)

		assert.Equal(t, "alice", bc.sent[1].target)
		assert.Equal(t, notifications.EventMessageSent, bc.sent[1].event.Type)
		assert.Equal(t, map[string]string{"message_id": res.MessageID, "status": StatusDelivered}, bc.sent[1].event.Payload)
	})

	t.Run("QueuedWhenOffline", func(t *testing.T) {
		bc := newRecordingBroadcaster()
		svc := NewMessagingService(bc, nil, func() time.Time { return at })

		res, err := svc.SendDirect(context.Background(), alice, DirectMessageInput{RecipientID: "ghost", Image: "https://example.com/a.png"})
		require.NoError(t, err)
		assert.Equal(t, StatusQueued, res.Status)
		assert.Equal(t, []string{notifications.EventReceiveMessage, notifications.EventMessageSent}, bc.types())
	})

	t.Run("Validation", func(t *testing.T) {
		bc := newRecordingBroadcaster()
		svc := NewMessagingService(bc, nil, nil)

		tests := []struct {
			name string
			in   DirectMessageInput
		}{
			{"no recipient", DirectMessageInput{Message: "hi"}},
			{"no content", DirectMessageInput{RecipientID: "bob"}},
			{"too long", DirectMessageInput{RecipientID: "bob", Message: strings.Repeat("x", 2001)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := svc.SendDirect(context.Background(), alice, tt.in)
				assert.True(t, models.IsCode(err, models.CodeInvalidState), "got %v", err)
			})
		}
		assert.Empty(t, bc.sent)
	})
}

func TestMessagingService_Typing(t *testing.T) {
	alice := notifications.Identity{UserID: "alice", Nickname: "Alice"}

	t.Run("Forwards", func(t *testing.T) {
		bc := newRecordingBroadcaster()
		svc := NewMessagingService(bc, nil, nil)

		require.NoError(t, svc.Typing(context.Background(), alice, "bob", true))
		require.Len(t, bc.sent, 1)
		assert.Equal(t, "bob", bc.sent[0].target)
		assert.Equal(t, notifications.EventUserTyping, bc.sent[0].event.Type)

		err := svc.Typing(context.Background(), alice, "", true)
		assert.True(t, models.IsCode(err, models.CodeInvalidState))
	})

	t.Run("RateLimited", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })

		bc := newRecordingBroadcaster()
		svc := NewMessagingService(bc, rdb, nil)

		for i := 0; i < typingLimit+5; i++ {
			require.NoError(t, svc.Typing(context.Background(), alice, "bob", i%2 == 0))
		}
		assert.Equal(t, typingLimit, bc.count(notifications.EventUserTyping))
	})

	t.Run("RedisDownFailsOpen", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		bc := newRecordingBroadcaster()
		svc := NewMessagingService(bc, nil, nil)

		require.NoError(t, svc.Typing(context.Background(), alice, "bob", true))
		assert.Equal(t, 1, bc.count(notifications.EventUserTyping))
	})
}
