// Package service holds the room membership coordinator and message fan-out.
package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/observability"
	"github.com/mstfsonmez/ghostly-backend/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxRoomNameLength    = 100
	maxDescriptionLength = 500
	maxPasswordBytes     = 72
	maxMessageLength     = 2000

	defaultMessageLimit = 50
	maxMessageLimit     = 100
)

// Broadcaster delivers room events to live connections.
type Broadcaster interface {
	ToUser(userID string, ev notifications.Event) bool
	ToRoom(roomID string, ev notifications.Event, exceptUserID string)
	ToAll(ev notifications.Event)
	SubscribeRoom(userID, roomID string) bool
	RemoveFromRoom(userID, roomID string)
	DropRoom(roomID string)
}

// RoomTimers is the lifecycle scheduler as seen by the coordinator.
type RoomTimers interface {
	Arm(roomID string, expiresAt time.Time)
	Cancel(roomID string)
	Expire(ctx context.Context, roomID string) (bool, error)
}

// RoomServiceConfig tunes room rules.
type RoomServiceConfig struct {
	RoomTTL      time.Duration
	BanDuration  time.Duration
	PasswordCost int
	Now          func() time.Time
}

// RoomService coordinates room membership. Every read-modify-write goes
// through RoomRepository.Mutate so concurrent joins, leaves and kicks on
// one room never lose updates.
type RoomService struct {
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	bc       Broadcaster
	timers   RoomTimers
	cfg      RoomServiceConfig
}

// CreateRoomInput is the input for creating a room.
type CreateRoomInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Visibility  string `json:"visibility"`
	Password    string `json:"password"`
	MaxMembers  *int   `json:"max_members"`
}

// ListRoomsInput filters the room list.
type ListRoomsInput struct {
	Visibility string
	Search     string
}

// JoinResult reports the room after a join.
type JoinResult struct {
	Room          *models.Room
	AlreadyMember bool
}

// LeaveResult reports whether leaving removed the whole room.
type LeaveResult struct {
	RoomDeleted bool `json:"room_deleted"`
}

// KickResult describes the effect of a kick.
type KickResult struct {
	MessagesDeleted int64     `json:"messages_deleted"`
	BannedUntil     time.Time `json:"banned_until"`
}

// NewRoomService returns a new RoomService.
func NewRoomService(
	rooms repository.RoomRepository,
	messages repository.MessageRepository,
	bc Broadcaster,
	timers RoomTimers,
	cfg RoomServiceConfig,
) *RoomService {
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = 12 * time.Hour
	}
	if cfg.BanDuration <= 0 {
		cfg.BanDuration = 5 * time.Minute
	}
	if cfg.PasswordCost == 0 {
		cfg.PasswordCost = bcrypt.DefaultCost
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RoomService{
		rooms:    rooms,
		messages: messages,
		bc:       bc,
		timers:   timers,
		cfg:      cfg,
	}
}

// Now is the coordinator's clock.
func (s *RoomService) Now() time.Time {
	return s.cfg.Now()
}

// CreateRoom creates a room owned by creatorID, who becomes its only member.
func (s *RoomService) CreateRoom(ctx context.Context, creatorID string, in CreateRoomInput) (room *models.Room, err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.CreateRoom", attribute.String("user.id", creatorID))
	defer func() { span.SetError(err); span.End() }()

	in.Name = strings.TrimSpace(in.Name)
	in.Description = strings.TrimSpace(in.Description)
	if err := validateCreate(&in); err != nil {
		return nil, err
	}

	now := s.cfg.Now()
	expires := now.Add(s.cfg.RoomTTL)
	room = &models.Room{
		ID:          uuid.NewString(),
		Name:        in.Name,
		Description: in.Description,
		Visibility:  in.Visibility,
		CreatorID:   creatorID,
		AdminID:     creatorID,
		MaxMembers:  in.MaxMembers,
		CreatedAt:   now,
		ExpiresAt:   &expires,
	}
	if in.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cfg.PasswordCost)
		if err != nil {
			return nil, models.NewInternalError(err)
		}
		room.PasswordHash = string(hash)
	}
	room.AddMember(creatorID, now)

	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, err
	}
	span.AddAttributes(attribute.String("room.id", room.ID))

	s.timers.Arm(room.ID, expires)
	s.bc.ToAll(notifications.RoomCreated(room.View(now)))
	s.bc.ToAll(notifications.RoomListUpdated(notifications.ListCreated, room.ID))
	return room, nil
}

func validateCreate(in *CreateRoomInput) error {
	n := utf8.RuneCountInString(in.Name)
	if n == 0 || n > maxRoomNameLength {
		return models.NewInvalidStateError("Room name must be between 1 and 100 characters")
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return models.NewInvalidStateError("Description must be at most 500 characters")
	}
	switch in.Visibility {
	case "":
		in.Visibility = models.VisibilityPublic
	case models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return models.NewInvalidStateError("Visibility must be public or private")
	}
	if len(in.Password) > maxPasswordBytes {
		return models.NewInvalidStateError("Password must be at most 72 bytes")
	}
	if in.MaxMembers != nil && *in.MaxMembers < 1 {
		return models.NewInvalidStateError("max_members must be at least 1")
	}
	return nil
}

// GetRoom returns a live room. A room found past its expiry is deleted on
// the spot and reported as expired.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	room, err := s.rooms.Get(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.IsExpired(s.cfg.Now()) {
		return nil, s.expire(ctx, roomID)
	}
	return room, nil
}

// expire runs the scheduler's deletion path and yields the Expired error.
func (s *RoomService) expire(ctx context.Context, roomID string) error {
	if _, err := s.timers.Expire(ctx, roomID); err != nil {
		observability.GlobalLogger.WarnContext(ctx, "lazy room expiry failed", "room_id", roomID, "error", err)
	}
	return models.NewExpiredError(roomID)
}

// ListRooms returns live rooms, newest first.
func (s *RoomService) ListRooms(ctx context.Context, in ListRoomsInput) ([]*models.Room, error) {
	switch in.Visibility {
	case "", models.VisibilityPublic, models.VisibilityPrivate:
	default:
		return nil, models.NewInvalidStateError("Visibility must be public or private")
	}
	return s.rooms.List(ctx, repository.RoomFilter{
		Visibility: in.Visibility,
		Search:     in.Search,
		ActiveAt:   s.cfg.Now(),
		Limit:      repository.MaxListLimit,
	})
}

// JoinRoom adds userID to the room. Joining a room one already belongs to
// succeeds without changes.
func (s *RoomService) JoinRoom(ctx context.Context, roomID, userID, password string) (res JoinResult, err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.JoinRoom",
		attribute.String("room.id", roomID), attribute.String("user.id", userID))
	defer func() { span.SetError(err); span.End() }()

	now := s.cfg.Now()
	staleBan := false
	room, err := s.rooms.Mutate(ctx, roomID, func(r *models.Room) error {
		res.AlreadyMember = false
		staleBan = false
		if r.IsExpired(now) {
			return models.NewExpiredError(roomID)
		}
		if ban, ok := r.BanFor(userID); ok {
			if now.Before(ban.BannedUntil) {
				return models.NewBannedError(ban.BannedUntil.Sub(now))
			}
			staleBan = true
			r.RemoveBan(userID)
		}
		if r.IsMember(userID) {
			res.AlreadyMember = true
			return nil
		}
		if r.HasPassword() {
			if bcrypt.CompareHashAndPassword([]byte(r.PasswordHash), []byte(password)) != nil {
				return models.NewForbiddenError("invalid password")
			}
		}
		if r.IsFull() {
			return models.NewForbiddenError("room full")
		}
		r.AddMember(userID, now)
		return nil
	})
	if models.IsCode(err, models.CodeExpired) {
		return JoinResult{}, s.expire(ctx, roomID)
	}
	if err != nil {
		if staleBan {
			// the refused join rolled the removal back
			s.dropLapsedBan(ctx, roomID, userID, now)
		}
		return JoinResult{}, err
	}

	res.Room = room
	if !res.AlreadyMember {
		s.bc.ToAll(notifications.RoomListUpdated(notifications.ListMemberJoined, roomID))
	}
	return res, nil
}

// dropLapsedBan persists the removal of userID's ban if it has run out.
func (s *RoomService) dropLapsedBan(ctx context.Context, roomID, userID string, now time.Time) {
	_, err := s.rooms.Mutate(ctx, roomID, func(r *models.Room) error {
		if ban, ok := r.BanFor(userID); ok && !now.Before(ban.BannedUntil) {
			r.RemoveBan(userID)
		}
		return nil
	})
	if err != nil {
		observability.GlobalLogger.WarnContext(ctx, "failed to drop lapsed ban",
			"room_id", roomID, "user_id", userID, "error", err)
	}
}

var errAdminLeaving = errors.New("admin leaving")

// LeaveRoom removes userID. When the admin leaves the whole room goes.
func (s *RoomService) LeaveRoom(ctx context.Context, roomID, userID string) (res LeaveResult, err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.LeaveRoom",
		attribute.String("room.id", roomID), attribute.String("user.id", userID))
	defer func() { span.SetError(err); span.End() }()

	now := s.cfg.Now()
	_, err = s.rooms.Mutate(ctx, roomID, func(r *models.Room) error {
		if r.IsExpired(now) {
			return models.NewExpiredError(roomID)
		}
		if !r.IsMember(userID) {
			return models.NewInvalidStateError("You are not a member of this room")
		}
		if r.AdminID == userID {
			return errAdminLeaving
		}
		r.RemoveMember(userID)
		return nil
	})
	switch {
	case errors.Is(err, errAdminLeaving):
		if err := s.deleteRoom(ctx, roomID, notifications.ReasonOwnerLeft,
			"The room owner left, so the room was closed"); err != nil {
			return LeaveResult{}, err
		}
		return LeaveResult{RoomDeleted: true}, nil
	case models.IsCode(err, models.CodeExpired):
		return LeaveResult{}, s.expire(ctx, roomID)
	case err != nil:
		return LeaveResult{}, err
	}

	s.bc.RemoveFromRoom(userID, roomID)
	s.bc.ToAll(notifications.RoomListUpdated(notifications.ListMemberLeft, roomID))
	return LeaveResult{}, nil
}

// deleteRoom removes the room and its messages and announces it once.
func (s *RoomService) deleteRoom(ctx context.Context, roomID, reason, message string) error {
	s.timers.Cancel(roomID)
	deleted, err := s.rooms.Delete(ctx, roomID)
	if err != nil {
		return err
	}
	if !deleted {
		// someone else removed it first and already announced it
		return nil
	}

	observability.RoomsDeleted.WithLabelValues(reason).Inc()
	s.bc.ToRoom(roomID, notifications.RoomDeleted(roomID, reason, message), "")
	s.bc.ToAll(notifications.RoomListUpdated(notifications.ListDeleted, roomID))
	s.bc.DropRoom(roomID)
	return nil
}

// KickUser removes targetID, clears their messages in the room and bans them
// for the configured duration.
func (s *RoomService) KickUser(ctx context.Context, roomID, adminID, targetID string) (res KickResult, err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.KickUser",
		attribute.String("room.id", roomID), attribute.String("user.id", adminID))
	defer func() { span.SetError(err); span.End() }()

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return KickResult{}, err
	}
	if err := checkKick(room, adminID, targetID); err != nil {
		return KickResult{}, err
	}

	deleted, err := s.messages.DeleteByAuthor(ctx, roomID, targetID)
	if err != nil {
		return KickResult{}, err
	}

	now := s.cfg.Now()
	until := now.Add(s.cfg.BanDuration)
	_, err = s.rooms.Mutate(ctx, roomID, func(r *models.Room) error {
		if err := checkKick(r, adminID, targetID); err != nil {
			return err
		}
		r.RemoveMember(targetID)
		r.SetBan(targetID, until)
		return nil
	})
	if err != nil {
		return KickResult{}, err
	}

	s.bc.ToUser(targetID, notifications.UserKicked(roomID, targetID, adminID, until))
	s.bc.ToAll(notifications.RoomListUpdated(notifications.ListMemberKicked, roomID))
	s.bc.ToRoom(roomID, notifications.MessagesCleared(roomID, targetID, deleted), "")
	s.bc.RemoveFromRoom(targetID, roomID)

	return KickResult{MessagesDeleted: deleted, BannedUntil: until}, nil
}

func checkKick(r *models.Room, adminID, targetID string) error {
	if r.AdminID != adminID {
		return models.NewForbiddenError("Only the room admin can kick members")
	}
	if targetID == adminID {
		return models.NewInvalidStateError("The admin cannot kick themselves")
	}
	if !r.IsMember(targetID) {
		return models.NewInvalidStateError("User is not a member of this room")
	}
	return nil
}

// DeleteRoom removes a room at its admin's request.
func (s *RoomService) DeleteRoom(ctx context.Context, roomID, requesterID string) (err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.DeleteRoom",
		attribute.String("room.id", roomID), attribute.String("user.id", requesterID))
	defer func() { span.SetError(err); span.End() }()

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if room.AdminID != requesterID {
		return models.NewForbiddenError("Only the room admin can delete the room")
	}
	return s.deleteRoom(ctx, roomID, notifications.ReasonAdminDeleted, "The room was deleted by its admin")
}

// TransferAdmin hands the admin role to another member.
func (s *RoomService) TransferAdmin(ctx context.Context, roomID, requesterID, newAdminID string) (room *models.Room, err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.TransferAdmin",
		attribute.String("room.id", roomID), attribute.String("user.id", requesterID))
	defer func() { span.SetError(err); span.End() }()

	now := s.cfg.Now()
	room, err = s.rooms.Mutate(ctx, roomID, func(r *models.Room) error {
		if r.IsExpired(now) {
			return models.NewExpiredError(roomID)
		}
		if r.AdminID != requesterID {
			return models.NewForbiddenError("Only the room admin can transfer admin rights")
		}
		if !r.IsMember(newAdminID) {
			return models.NewInvalidStateError("New admin must be a member of this room")
		}
		r.AdminID = newAdminID
		return nil
	})
	if models.IsCode(err, models.CodeExpired) {
		return nil, s.expire(ctx, roomID)
	}
	if err != nil {
		return nil, err
	}

	s.bc.ToRoom(roomID, notifications.AdminTransferred(roomID, requesterID, newAdminID), "")
	return room, nil
}

// GetMessages returns up to limit of the newest messages, oldest first.
func (s *RoomService) GetMessages(ctx context.Context, roomID string, limit int) ([]models.RoomMessage, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultMessageLimit
	}
	if limit > maxMessageLimit {
		limit = maxMessageLimit
	}
	return s.messages.Recent(ctx, roomID, limit)
}

// PostMessage stores a message from a member and broadcasts it to the room,
// sender included.
func (s *RoomService) PostMessage(ctx context.Context, roomID string, author notifications.Identity, text string) (msg *models.RoomMessage, err error) {
	span, ctx := observability.NewSpan(ctx, "RoomService.PostMessage",
		attribute.String("room.id", roomID), attribute.String("user.id", author.UserID))
	defer func() { span.SetError(err); span.End() }()

	text = strings.TrimSpace(text)
	if n := utf8.RuneCountInString(text); n == 0 || n > maxMessageLength {
		return nil, models.NewInvalidStateError("Message must be between 1 and 2000 characters")
	}

	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if !room.IsMember(author.UserID) {
		return nil, models.NewForbiddenError("You are not a member of this room")
	}

	msg = &models.RoomMessage{
		RoomID:    roomID,
		AuthorID:  author.UserID,
		Nickname:  author.Nickname,
		Text:      text,
		CreatedAt: s.cfg.Now(),
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, err
	}

	observability.RoomMessages.Inc()
	s.bc.ToRoom(roomID, notifications.ReceiveRoomMessage(*msg), "")
	s.bc.ToAll(notifications.RoomListUpdated(notifications.ListNewMessage, roomID))
	return msg, nil
}

// UserChannels lists rooms userID has posted in.
func (s *RoomService) UserChannels(ctx context.Context, userID string) ([]models.ChannelSummary, error) {
	return s.messages.ChannelsForUser(ctx, userID)
}
