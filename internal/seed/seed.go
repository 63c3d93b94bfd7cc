package seed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/middleware"
	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/repository"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Options configure a Seeder. Zero values fall back to production defaults.
type Options struct {
	RoomTTL      time.Duration
	PasswordCost int
	Now          func() time.Time
}

// Seeder writes rooms and messages straight through the repositories,
// bypassing the membership coordinator and its broadcasts.
type Seeder struct {
	db       *gorm.DB
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	opts     Options
}

// NewSeeder creates a seeder over db.
func NewSeeder(db *gorm.DB, opts Options) *Seeder {
	if opts.RoomTTL <= 0 {
		opts.RoomTTL = 12 * time.Hour
	}
	if opts.PasswordCost == 0 {
		opts.PasswordCost = bcrypt.DefaultCost
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Seeder{
		db:       db,
		rooms:    repository.NewRoomRepository(db),
		messages: repository.NewMessageRepository(db),
		opts:     opts,
	}
}

// ClearAll removes every room, member, ban and message.
func (s *Seeder) ClearAll(ctx context.Context) error {
	middleware.Logger.Info("Clearing rooms and messages")
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []interface{}{&models.RoomMessage{}, &models.RoomBan{}, &models.RoomMember{}, &models.Room{}} {
			if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(model).Error; err != nil {
				return fmt.Errorf("clear %T: %w", model, err)
			}
		}
		return nil
	})
}

// ApplyFixtures creates each fixture room that has no live room of the same
// name yet, so running it twice is harmless. It returns the rooms created.
func (s *Seeder) ApplyFixtures(ctx context.Context, fx *Fixtures) ([]*models.Room, error) {
	now := s.opts.Now()
	var created []*models.Room

	for _, rf := range fx.Rooms {
		var existing int64
		err := s.db.WithContext(ctx).Model(&models.Room{}).
			Where("name = ? AND (expires_at IS NULL OR expires_at > ?)", rf.Name, now).
			Count(&existing).Error
		if err != nil {
			return created, fmt.Errorf("check room %q: %w", rf.Name, err)
		}
		if existing > 0 {
			middleware.Logger.Info("Fixture room already present", slog.String("name", rf.Name))
			continue
		}

		room, err := s.createRoom(ctx, rf, now)
		if err != nil {
			return created, err
		}
		created = append(created, room)
	}

	middleware.Logger.Info("Fixtures applied", slog.Int("rooms_created", len(created)))
	return created, nil
}

func (s *Seeder) createRoom(ctx context.Context, rf RoomFixture, now time.Time) (*models.Room, error) {
	visibility := strings.ToLower(strings.TrimSpace(rf.Visibility))
	if visibility == "" {
		visibility = models.VisibilityPublic
	}
	expires := now.Add(s.opts.RoomTTL)

	room := &models.Room{
		ID:          uuid.NewString(),
		Name:        rf.Name,
		Description: rf.Description,
		Visibility:  visibility,
		CreatorID:   rf.Admin,
		AdminID:     rf.Admin,
		MaxMembers:  rf.MaxMembers,
		CreatedAt:   now,
		ExpiresAt:   &expires,
	}
	if rf.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(rf.Password), s.opts.PasswordCost)
		if err != nil {
			return nil, fmt.Errorf("hash password for %q: %w", rf.Name, err)
		}
		room.PasswordHash = string(hash)
	}

	room.AddMember(rf.Admin, now)
	for _, m := range rf.Members {
		room.AddMember(m, now)
	}
	for _, m := range rf.Messages {
		room.AddMember(m.Author, now)
	}

	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, fmt.Errorf("create room %q: %w", rf.Name, err)
	}

	for i, m := range rf.Messages {
		msg := &models.RoomMessage{
			RoomID:    room.ID,
			AuthorID:  m.Author,
			Nickname:  m.Author,
			Text:      m.Text,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			return nil, fmt.Errorf("create message in %q: %w", rf.Name, err)
		}
	}
	return room, nil
}
