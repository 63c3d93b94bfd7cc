package service

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/database"
	"github.com/mstfsonmez/ghostly-backend/internal/lifecycle"
	"github.com/mstfsonmez/ghostly-backend/internal/models"
	"github.com/mstfsonmez/ghostly-backend/internal/notifications"
	"github.com/mstfsonmez/ghostly-backend/internal/repository"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type broadcast struct {
	scope  string
	target string
	except string
	event  notifications.Event
}

type recordingBroadcaster struct {
	mu           sync.Mutex
	sent         []broadcast
	online       map[string]bool
	subscribed   map[string]bool
	unsubscribed []string
	dropped      []string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{online: map[string]bool{}, subscribed: map[string]bool{}}
}

func (b *recordingBroadcaster) ToUser(userID string, ev notifications.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{scope: "user", target: userID, event: ev})
	return b.online[userID]
}

func (b *recordingBroadcaster) ToRoom(roomID string, ev notifications.Event, except string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{scope: "room", target: roomID, except: except, event: ev})
}

func (b *recordingBroadcaster) ToAll(ev notifications.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, broadcast{scope: "all", event: ev})
}

func (b *recordingBroadcaster) SubscribeRoom(userID, roomID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribed[userID+"@"+roomID] = true
	return true
}

func (b *recordingBroadcaster) RemoveFromRoom(userID, roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribed = append(b.unsubscribed, userID+"@"+roomID)
}

func (b *recordingBroadcaster) DropRoom(roomID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dropped = append(b.dropped, roomID)
}

func (b *recordingBroadcaster) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = nil
	b.unsubscribed = nil
	b.dropped = nil
}

func (b *recordingBroadcaster) types() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sent))
	for _, s := range b.sent {
		out = append(out, s.event.Type)
	}
	return out
}

func (b *recordingBroadcaster) count(eventType string) int {
	n := 0
	for _, t := range b.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(database.PersistentModels()...))
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type roomFixture struct {
	svc      *RoomService
	rooms    repository.RoomRepository
	messages repository.MessageRepository
	bc       *recordingBroadcaster
	sched    *lifecycle.Scheduler
	clock    *fakeClock
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	db := setupTestDB(t)
	f := &roomFixture{
		rooms:    repository.NewRoomRepository(db),
		messages: repository.NewMessageRepository(db),
		bc:       newRecordingBroadcaster(),
		clock:    &fakeClock{now: time.Now().UTC()},
	}
	f.sched = lifecycle.NewScheduler(f.rooms, f.messages, f.bc, lifecycle.Config{Now: f.clock.Now})
	t.Cleanup(f.sched.Stop)
	f.svc = NewRoomService(f.rooms, f.messages, f.bc, f.sched, RoomServiceConfig{
		RoomTTL:      12 * time.Hour,
		BanDuration:  5 * time.Minute,
		PasswordCost: bcrypt.MinCost,
		Now:          f.clock.Now,
	})
	return f
}

func (f *roomFixture) create(t *testing.T, admin string, in CreateRoomInput) *models.Room {
	t.Helper()
	if in.Name == "" {
		in.Name = gofakeit.Adjective() + " room"
	}
	room, err := f.svc.CreateRoom(context.Background(), admin, in)
	require.NoError(t, err)
	return room
}

func intPtr(n int) *int { return &n }

func TestRoomService_CreateRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	t.Run("Validation", func(t *testing.T) {
		tests := []struct {
			name string
			in   CreateRoomInput
		}{
			{"empty name", CreateRoomInput{Name: "   "}},
			{"long name", CreateRoomInput{Name: strings.Repeat("n", 101)}},
			{"long description", CreateRoomInput{Name: "ok", Description: strings.Repeat("d", 501)}},
			{"bad visibility", CreateRoomInput{Name: "ok", Visibility: "hidden"}},
			{"long password", CreateRoomInput{Name: "ok", Password: strings.Repeat("p", 73)}},
			{"zero capacity", CreateRoomInput{Name: "ok", MaxMembers: intPtr(0)}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.CreateRoom(ctx, "alice", tt.in)
				assert.True(t, models.IsCode(err, models.CodeInvalidState), "got %v", err)
			})
		}
	})

	t.Run("Success", func(t *testing.T) {
		f.bc.reset()
		room := f.create(t, "alice", CreateRoomInput{Name: "  Night Owls ", Password: "hunter2"})

		assert.Equal(t, "Night Owls", room.Name)
		assert.Equal(t, models.VisibilityPublic, room.Visibility)
		assert.Equal(t, "alice", room.AdminID)
		assert.Equal(t, "alice", room.CreatorID)
		assert.Equal(t, []string{"alice"}, room.MemberIDs())
		require.NotNil(t, room.ExpiresAt)
		assert.Equal(t, f.clock.Now().Add(12*time.Hour), *room.ExpiresAt)
		assert.NotEqual(t, "hunter2", room.PasswordHash)
		assert.True(t, room.HasPassword())
		assert.True(t, f.sched.Armed(room.ID))
		assert.Equal(t, []string{notifications.EventRoomCreated, notifications.EventRoomListUpdated}, f.bc.types())
	})
}

func TestRoomService_GetRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	_, err := f.svc.GetRoom(ctx, "missing")
	assert.True(t, models.IsCode(err, models.CodeNotFound))

	room := f.create(t, "alice", CreateRoomInput{})
	got, err := f.svc.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, room.ID, got.ID)

	f.bc.reset()
	f.clock.Advance(12 * time.Hour)
	_, err = f.svc.GetRoom(ctx, room.ID)
	assert.True(t, models.IsCode(err, models.CodeExpired))
	assert.Equal(t, 410, models.StatusFor(err))
	assert.Equal(t, 1, f.bc.count(notifications.EventRoomExpired))

	_, err = f.svc.GetRoom(ctx, room.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound), "expired room is gone")
	assert.Equal(t, 1, f.bc.count(notifications.EventRoomExpired))
}

func TestRoomService_ListRooms(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	f.create(t, "a", CreateRoomInput{Name: "Go Gophers"})
	f.clock.Advance(time.Second)
	f.create(t, "b", CreateRoomInput{Name: "gossip", Visibility: models.VisibilityPrivate})
	f.clock.Advance(time.Second)
	f.create(t, "c", CreateRoomInput{Name: "Rustaceans"})

	rooms, err := f.svc.ListRooms(ctx, ListRoomsInput{Search: "go"})
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "gossip", rooms[0].Name)

	rooms, err = f.svc.ListRooms(ctx, ListRoomsInput{Visibility: models.VisibilityPublic})
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	_, err = f.svc.ListRooms(ctx, ListRoomsInput{Visibility: "secret"})
	assert.True(t, models.IsCode(err, models.CodeInvalidState))

	f.clock.Advance(12 * time.Hour)
	rooms, err = f.svc.ListRooms(ctx, ListRoomsInput{})
	require.NoError(t, err)
	assert.Empty(t, rooms, "expired rooms are hidden")
}

func TestRoomService_JoinRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	t.Run("NotFound", func(t *testing.T) {
		_, err := f.svc.JoinRoom(ctx, "missing", "bob", "")
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})

	t.Run("AddsMemberAndAnnounces", func(t *testing.T) {
		room := f.create(t, "alice", CreateRoomInput{})
		f.bc.reset()

		res, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
		require.NoError(t, err)
		assert.False(t, res.AlreadyMember)
		assert.Equal(t, []string{"alice", "bob"}, res.Room.MemberIDs())
		assert.Equal(t, []string{notifications.EventRoomListUpdated}, f.bc.types())

		f.bc.reset()
		res, err = f.svc.JoinRoom(ctx, room.ID, "bob", "")
		require.NoError(t, err)
		assert.True(t, res.AlreadyMember)
		assert.Len(t, res.Room.Members, 2)
		assert.Empty(t, f.bc.types())
	})

	t.Run("Password", func(t *testing.T) {
		room := f.create(t, "alice", CreateRoomInput{Password: "open sesame"})

		_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "wrong")
		require.True(t, models.IsCode(err, models.CodeForbidden))
		assert.Contains(t, err.Error(), "invalid password")

		_, err = f.svc.JoinRoom(ctx, room.ID, "bob", "open sesame")
		assert.NoError(t, err)
	})

	t.Run("Capacity", func(t *testing.T) {
		room := f.create(t, "alice", CreateRoomInput{MaxMembers: intPtr(2)})

		_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
		require.NoError(t, err)
		_, err = f.svc.JoinRoom(ctx, room.ID, "carol", "")
		require.True(t, models.IsCode(err, models.CodeForbidden))
		assert.Contains(t, err.Error(), "room full")
	})

	t.Run("MemberRejoinSkipsPasswordAndCapacity", func(t *testing.T) {
		room := f.create(t, "alice", CreateRoomInput{Password: "open sesame", MaxMembers: intPtr(2)})

		_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "open sesame")
		require.NoError(t, err)

		res, err := f.svc.JoinRoom(ctx, room.ID, "bob", "wrong")
		require.NoError(t, err)
		assert.True(t, res.AlreadyMember)
		assert.Len(t, res.Room.Members, 2)

		_, err = f.svc.JoinRoom(ctx, room.ID, "carol", "open sesame")
		require.True(t, models.IsCode(err, models.CodeForbidden))
		assert.Contains(t, err.Error(), "room full")
	})

	t.Run("ConcurrentJoinsRespectCapacity", func(t *testing.T) {
		room := f.create(t, "alice", CreateRoomInput{MaxMembers: intPtr(3)})

		users := make([]string, 10)
		for i := range users {
			users[i] = gofakeit.UUID()
		}

		var ok int32
		var wg sync.WaitGroup
		for _, userID := range users {
			wg.Add(1)
			go func(userID string) {
				defer wg.Done()
				if _, err := f.svc.JoinRoom(ctx, room.ID, userID, ""); err == nil {
					atomic.AddInt32(&ok, 1)
				}
			}(userID)
		}
		wg.Wait()

		assert.Equal(t, int32(2), atomic.LoadInt32(&ok))
		got, err := f.rooms.Get(ctx, room.ID)
		require.NoError(t, err)
		assert.Len(t, got.Members, 3)
	})

	t.Run("Expired", func(t *testing.T) {
		room := f.create(t, "alice", CreateRoomInput{})
		f.clock.Advance(13 * time.Hour)
		defer f.clock.Advance(-13 * time.Hour)

		_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
		assert.True(t, models.IsCode(err, models.CodeExpired))
		_, err = f.rooms.Get(ctx, room.ID)
		assert.True(t, models.IsCode(err, models.CodeNotFound))
	})
}

func TestRoomService_KickAndBan(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room := f.create(t, "alice", CreateRoomInput{})
	_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
	require.NoError(t, err)
	_, err = f.svc.JoinRoom(ctx, room.ID, "carol", "")
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err = f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "bob", Nickname: "Bob"}, gofakeit.Sentence(4))
		require.NoError(t, err)
	}
	_, err = f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "carol"}, "stays")
	require.NoError(t, err)

	t.Run("Rules", func(t *testing.T) {
		_, err := f.svc.KickUser(ctx, room.ID, "carol", "bob")
		assert.True(t, models.IsCode(err, models.CodeForbidden))
		_, err = f.svc.KickUser(ctx, room.ID, "alice", "alice")
		assert.True(t, models.IsCode(err, models.CodeInvalidState))
		_, err = f.svc.KickUser(ctx, room.ID, "alice", "stranger")
		assert.True(t, models.IsCode(err, models.CodeInvalidState))
	})

	t.Run("Kick", func(t *testing.T) {
		f.bc.reset()
		res, err := f.svc.KickUser(ctx, room.ID, "alice", "bob")
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.MessagesDeleted)
		assert.Equal(t, f.clock.Now().Add(5*time.Minute), res.BannedUntil)

		assert.Equal(t, []string{
			notifications.EventUserKicked,
			notifications.EventRoomListUpdated,
			notifications.EventMessagesCleared,
		}, f.bc.types())
		f.bc.mu.Lock()
		assert.Equal(t, "bob", f.bc.sent[0].target)
		kicked := f.bc.sent[0].event.Payload.(map[string]interface{})
		assert.Equal(t, "bob", kicked["user_id"])
		assert.Equal(t, "alice", kicked["kicked_by"])
		cleared := f.bc.sent[2].event.Payload.(map[string]interface{})
		assert.Equal(t, "bob", cleared["kicked_user_id"])
		assert.Equal(t, int64(3), cleared["deleted"])
		assert.Equal(t, []string{"bob@" + room.ID}, f.bc.unsubscribed)
		f.bc.mu.Unlock()

		msgs, err := f.svc.GetMessages(ctx, room.ID, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "carol", msgs[0].AuthorID)

		got, err := f.rooms.Get(ctx, room.ID)
		require.NoError(t, err)
		assert.False(t, got.IsMember("bob"))
	})

	t.Run("BannedRejoin", func(t *testing.T) {
		f.clock.Advance(2 * time.Minute)
		_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
		require.True(t, models.IsCode(err, models.CodeForbidden))

		var appErr *models.AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, 3*time.Minute, appErr.RetryAfter)
		assert.Contains(t, appErr.Message, "3m 0s")
	})

	t.Run("BanLapses", func(t *testing.T) {
		f.clock.Advance(3 * time.Minute)
		res, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
		require.NoError(t, err)
		assert.True(t, res.Room.IsMember("bob"))
		_, banned := res.Room.BanFor("bob")
		assert.False(t, banned, "stale ban entry is removed")
	})
}

func TestRoomService_LapsedBanDroppedOnRefusedJoin(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room := f.create(t, "alice", CreateRoomInput{Password: "open sesame"})
	_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "open sesame")
	require.NoError(t, err)
	_, err = f.svc.KickUser(ctx, room.ID, "alice", "bob")
	require.NoError(t, err)

	f.clock.Advance(6 * time.Minute)
	_, err = f.svc.JoinRoom(ctx, room.ID, "bob", "wrong")
	require.True(t, models.IsCode(err, models.CodeForbidden))
	assert.Contains(t, err.Error(), "invalid password")

	got, err := f.rooms.Get(ctx, room.ID)
	require.NoError(t, err)
	_, banned := got.BanFor("bob")
	assert.False(t, banned)
	assert.False(t, got.IsMember("bob"))
}

func TestRoomService_LeaveRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room := f.create(t, "alice", CreateRoomInput{})
	_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
	require.NoError(t, err)
	_, err = f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "bob"}, "bye")
	require.NoError(t, err)

	_, err = f.svc.LeaveRoom(ctx, room.ID, "stranger")
	assert.True(t, models.IsCode(err, models.CodeInvalidState))

	f.bc.reset()
	res, err := f.svc.LeaveRoom(ctx, room.ID, "bob")
	require.NoError(t, err)
	assert.False(t, res.RoomDeleted)
	assert.Equal(t, []string{notifications.EventRoomListUpdated}, f.bc.types())

	_, err = f.svc.JoinRoom(ctx, room.ID, "bob", "")
	require.NoError(t, err)

	f.bc.reset()
	res, err = f.svc.LeaveRoom(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.True(t, res.RoomDeleted)
	assert.Equal(t, []string{notifications.EventRoomDeleted, notifications.EventRoomListUpdated}, f.bc.types())
	f.bc.mu.Lock()
	deletedEv := f.bc.sent[0]
	f.bc.mu.Unlock()
	assert.Equal(t, "room", deletedEv.scope)
	assert.Equal(t, notifications.ReasonOwnerLeft, deletedEv.event.Payload.(map[string]string)["reason"])
	assert.False(t, f.sched.Armed(room.ID))

	_, err = f.rooms.Get(ctx, room.ID)
	assert.True(t, models.IsCode(err, models.CodeNotFound))
	channels, err := f.svc.UserChannels(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, channels, "messages go with the room")
}

func TestRoomService_DeleteRoom(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room := f.create(t, "alice", CreateRoomInput{})
	_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
	require.NoError(t, err)

	err = f.svc.DeleteRoom(ctx, room.ID, "bob")
	assert.True(t, models.IsCode(err, models.CodeForbidden))

	f.bc.reset()
	require.NoError(t, f.svc.DeleteRoom(ctx, room.ID, "alice"))
	assert.Equal(t, 1, f.bc.count(notifications.EventRoomDeleted))
	assert.False(t, f.sched.Armed(room.ID))
	f.bc.mu.Lock()
	assert.Equal(t, []string{room.ID}, f.bc.dropped)
	f.bc.mu.Unlock()

	err = f.svc.DeleteRoom(ctx, room.ID, "alice")
	assert.True(t, models.IsCode(err, models.CodeNotFound))
}

func TestRoomService_TransferAdmin(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()

	room := f.create(t, "alice", CreateRoomInput{})
	_, err := f.svc.JoinRoom(ctx, room.ID, "bob", "")
	require.NoError(t, err)

	_, err = f.svc.TransferAdmin(ctx, room.ID, "bob", "alice")
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	_, err = f.svc.TransferAdmin(ctx, room.ID, "alice", "stranger")
	assert.True(t, models.IsCode(err, models.CodeInvalidState))

	f.bc.reset()
	updated, err := f.svc.TransferAdmin(ctx, room.ID, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", updated.AdminID)
	assert.Equal(t, "alice", updated.CreatorID)
	assert.Equal(t, []string{notifications.EventAdminTransferred}, f.bc.types())

	// the old admin leaving no longer deletes the room
	res, err := f.svc.LeaveRoom(ctx, room.ID, "alice")
	require.NoError(t, err)
	assert.False(t, res.RoomDeleted)
}

func TestRoomService_Messages(t *testing.T) {
	f := newRoomFixture(t)
	ctx := context.Background()
	room := f.create(t, "alice", CreateRoomInput{})

	_, err := f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "mallory"}, "hi")
	assert.True(t, models.IsCode(err, models.CodeForbidden))
	_, err = f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "alice"}, "   ")
	assert.True(t, models.IsCode(err, models.CodeInvalidState))
	_, err = f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "alice"}, strings.Repeat("x", 2001))
	assert.True(t, models.IsCode(err, models.CodeInvalidState))

	f.bc.reset()
	for i := 0; i < 60; i++ {
		f.clock.Advance(time.Millisecond)
		_, err := f.svc.PostMessage(ctx, room.ID, notifications.Identity{UserID: "alice", Nickname: "Al"}, gofakeit.Word())
		require.NoError(t, err)
	}
	assert.Equal(t, 60, f.bc.count(notifications.EventReceiveRoomMessage))
	f.bc.mu.Lock()
	assert.Equal(t, "", f.bc.sent[0].except, "sender receives its own room message")
	f.bc.mu.Unlock()

	msgs, err := f.svc.GetMessages(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 50)
	assert.True(t, msgs[0].CreatedAt.Before(msgs[49].CreatedAt))

	msgs, err = f.svc.GetMessages(ctx, room.ID, 500)
	require.NoError(t, err)
	assert.Len(t, msgs, 60)

	channels, err := f.svc.UserChannels(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Zero(t, channels[0].UnreadCount)
}
