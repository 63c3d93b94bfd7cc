package repository

import (
	"context"
	"strings"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxListLimit caps the number of rooms returned by List.
const MaxListLimit = 100

// RoomFilter narrows List results.
type RoomFilter struct {
	Visibility string
	Search     string
	// ActiveAt excludes rooms already past expiry at that instant when non-zero.
	ActiveAt time.Time
	Limit    int
}

// RoomMutation edits a locked room in place. Returning an error aborts the
// mutation and nothing is written.
type RoomMutation func(room *models.Room) error

// RoomRepository is the durable room store. It guarantees that Mutate calls
// on the same room id are serialized; it enforces no membership rules.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	Get(ctx context.Context, id string) (*models.Room, error)
	Mutate(ctx context.Context, id string, fn RoomMutation) (*models.Room, error)
	// Delete removes the room and then its messages. It reports whether this
	// call removed the room, so concurrent deleters can tell who won.
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, filter RoomFilter) ([]*models.Room, error)
	ListAll(ctx context.Context) ([]*models.Room, error)
	BackfillExpiry(ctx context.Context, id string, expiresAt time.Time) error
}

type roomRepository struct {
	db  *gorm.DB
	log *observability.RepoLogger
}

// NewRoomRepository creates a new room repository
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db, log: observability.NewRepoLogger("rooms")}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(room).Error
	})
	if err != nil {
		r.log.LogError(ctx, err, "create")
		return classify(err, "Room", room.ID)
	}
	r.log.LogCreate(ctx, map[string]interface{}{"room_id": room.ID, "admin_id": room.AdminID})
	return nil
}

func (r *roomRepository) Get(ctx context.Context, id string) (*models.Room, error) {
	var room models.Room
	err := r.db.WithContext(ctx).
		Preload("Members", func(db *gorm.DB) *gorm.DB {
			return db.Order("joined_at ASC, user_id ASC")
		}).
		Preload("Bans").
		Where("id = ?", id).
		First(&room).Error
	if err != nil {
		return nil, classify(err, "Room", id)
	}
	return &room, nil
}

func (r *roomRepository) Mutate(ctx context.Context, id string, fn RoomMutation) (*models.Room, error) {
	var (
		result  *models.Room
		refused error
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var room models.Room
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&room).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Order("joined_at ASC, user_id ASC").Find(&room.Members).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Find(&room.Bans).Error; err != nil {
			return err
		}

		if err := fn(&room); err != nil {
			refused = err
			return err
		}
		room.ID = id

		if err := tx.Model(&models.Room{}).Where("id = ?", id).Update("admin_id", room.AdminID).Error; err != nil {
			return err
		}
		if err := replaceMembers(tx, &room); err != nil {
			return err
		}
		if err := replaceBans(tx, &room); err != nil {
			return err
		}

		result = &room
		return nil
	})
	if refused != nil {
		// the mutation's own refusal reaches the caller untouched
		return nil, refused
	}
	if err != nil {
		r.log.LogError(ctx, err, "mutate")
		return nil, classify(err, "Room", id)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"room_id": id, "members": len(result.Members), "bans": len(result.Bans)})
	return result, nil
}

func replaceMembers(tx *gorm.DB, room *models.Room) error {
	if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomMember{}).Error; err != nil {
		return err
	}
	if len(room.Members) == 0 {
		return nil
	}
	for i := range room.Members {
		room.Members[i].RoomID = room.ID
	}
	return tx.Create(&room.Members).Error
}

func replaceBans(tx *gorm.DB, room *models.Room) error {
	if err := tx.Where("room_id = ?", room.ID).Delete(&models.RoomBan{}).Error; err != nil {
		return err
	}
	if len(room.Bans) == 0 {
		return nil
	}
	for i := range room.Bans {
		room.Bans[i].RoomID = room.ID
	}
	return tx.Create(&room.Bans).Error
}

func (r *roomRepository) Delete(ctx context.Context, id string) (bool, error) {
	var removed int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", id).Delete(&models.RoomMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", id).Delete(&models.RoomBan{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Room{})
		if res.Error != nil {
			return res.Error
		}
		removed = res.RowsAffected
		return nil
	})
	if err != nil {
		r.log.LogError(ctx, err, "delete")
		return false, classify(err, "Room", id)
	}

	// Messages go in a second statement. If it fails the room is still gone
	// and retention prunes the leftovers.
	msgs := r.db.WithContext(ctx).Where("room_id = ?", id).Delete(&models.RoomMessage{})
	if msgs.Error != nil {
		r.log.LogError(ctx, msgs.Error, "delete_messages")
	}

	if removed > 0 {
		r.log.LogDelete(ctx, map[string]interface{}{"room_id": id, "messages": msgs.RowsAffected})
	}
	return removed > 0, nil
}

func (r *roomRepository) List(ctx context.Context, filter RoomFilter) ([]*models.Room, error) {
	limit := filter.Limit
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}

	q := r.db.WithContext(ctx).Model(&models.Room{})
	if filter.Visibility != "" {
		q = q.Where("visibility = ?", filter.Visibility)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		q = q.Where("LOWER(name) LIKE ? ESCAPE '\\'", "%"+escapeLike(strings.ToLower(s))+"%")
	}
	if !filter.ActiveAt.IsZero() {
		q = q.Where("expires_at IS NULL OR expires_at > ?", filter.ActiveAt)
	}

	var rooms []*models.Room
	err := q.Preload("Members", func(db *gorm.DB) *gorm.DB {
		return db.Order("joined_at ASC, user_id ASC")
	}).
		Order("created_at DESC").
		Limit(limit).
		Find(&rooms).Error
	if err != nil {
		return nil, classify(err, "Room", "list")
	}
	return rooms, nil
}

func (r *roomRepository) ListAll(ctx context.Context) ([]*models.Room, error) {
	var rooms []*models.Room
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&rooms).Error; err != nil {
		return nil, classify(err, "Room", "all")
	}
	return rooms, nil
}

// BackfillExpiry sets expires_at only where it is still missing, so an
// existing expiry is never rewritten.
func (r *roomRepository) BackfillExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	err := r.db.WithContext(ctx).
		Model(&models.Room{}).
		Where("id = ? AND expires_at IS NULL", id).
		Update("expires_at", expiresAt).Error
	if err != nil {
		return classify(err, "Room", id)
	}
	r.log.LogUpdate(ctx, map[string]interface{}{"room_id": id, "backfill_expires_at": expiresAt})
	return nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
