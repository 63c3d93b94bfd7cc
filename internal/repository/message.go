package repository

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"

	"gorm.io/gorm"
)

// MessageRepository stores room chat lines.
type MessageRepository interface {
	Create(ctx context.Context, msg *models.RoomMessage) error
	// Recent returns up to limit of the newest messages, oldest first.
	Recent(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error)
	DeleteByAuthor(ctx context.Context, roomID, authorID string) (int64, error)
	DeleteByRoom(ctx context.Context, roomID string) (int64, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	ChannelsForUser(ctx context.Context, userID string) ([]models.ChannelSummary, error)
}

type messageRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewMessageRepository creates a new room message repository
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db, log: observability.NewRepoLogger("room_messages")}
}

func (r *messageRepository) Create(ctx context.Context, msg *models.RoomMessage) error {
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		r.log.LogError(ctx, err, "create")
		return classify(err, "Message", msg.RoomID)
	}
	return nil
}

func (r *messageRepository) Recent(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error) {
	var msgs []models.RoomMessage
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, classify(err, "Message", roomID)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *messageRepository) DeleteByAuthor(ctx context.Context, roomID, authorID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("room_id = ? AND author_id = ?", roomID, authorID).
		Delete(&models.RoomMessage{})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete_by_author")
		return 0, classify(res.Error, "Message", roomID)
	}
	r.log.LogDelete(ctx, map[string]interface{}{"room_id": roomID, "author_id": authorID, "count": res.RowsAffected})
	return res.RowsAffected, nil
}

func (r *messageRepository) DeleteByRoom(ctx context.Context, roomID string) (int64, error) {
	res := r.db.WithContext(ctx).Where("room_id = ?", roomID).Delete(&models.RoomMessage{})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "delete_by_room")
		return 0, classify(res.Error, "Message", roomID)
	}
	return res.RowsAffected, nil
}

func (r *messageRepository) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.RoomMessage{})
	if res.Error != nil {
		r.log.LogError(ctx, res.Error, "prune")
		return 0, classify(res.Error, "Message", "prune")
	}
	return res.RowsAffected, nil
}

// ChannelsForUser lists rooms userID has posted in, newest activity first.
// Unread counts messages by others newer than the user's own last message.
func (r *messageRepository) ChannelsForUser(ctx context.Context, userID string) ([]models.ChannelSummary, error) {
	var roomIDs []string
	err := r.db.WithContext(ctx).
		Model(&models.RoomMessage{}).
		Where("author_id = ?", userID).
		Distinct("room_id").
		Pluck("room_id", &roomIDs).Error
	if err != nil {
		return nil, classify(err, "Message", userID)
	}

	out := make([]models.ChannelSummary, 0, len(roomIDs))
	for _, roomID := range roomIDs {
		var room models.Room
		err := r.db.WithContext(ctx).Select("id", "name").Where("id = ?", roomID).Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// orphaned messages waiting for retention
			continue
		}
		if err != nil {
			return nil, classify(err, "Room", roomID)
		}

		var own, last models.RoomMessage
		if err := r.db.WithContext(ctx).
			Where("room_id = ? AND author_id = ?", roomID, userID).
			Order("created_at DESC, id DESC").
			Take(&own).Error; err != nil {
			return nil, classify(err, "Message", roomID)
		}
		if err := r.db.WithContext(ctx).
			Where("room_id = ?", roomID).
			Order("created_at DESC, id DESC").
			Take(&last).Error; err != nil {
			return nil, classify(err, "Message", roomID)
		}

		var unread int64
		if err := r.db.WithContext(ctx).
			Model(&models.RoomMessage{}).
			Where("room_id = ? AND author_id <> ? AND created_at > ?", roomID, userID, own.CreatedAt).
			Count(&unread).Error; err != nil {
			return nil, classify(err, "Message", roomID)
		}

		out = append(out, models.ChannelSummary{
			RoomID:      room.ID,
			RoomName:    room.Name,
			LastMessage: &last,
			UnreadCount: unread,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessage.CreatedAt.After(out[j].LastMessage.CreatedAt)
	})
	return out, nil
}
