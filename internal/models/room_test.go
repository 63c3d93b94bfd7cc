package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRoom_MembershipHelpers(t *testing.T) {
	room := &Room{ID: "r1"}
	now := time.Now()

	assert.True(t, room.AddMember("alice", now))
	assert.False(t, room.AddMember("alice", now), "duplicate add must be a no-op")
	assert.True(t, room.AddMember("bob", now))
	assert.Equal(t, []string{"alice", "bob"}, room.MemberIDs())

	assert.True(t, room.RemoveMember("alice"))
	assert.False(t, room.RemoveMember("alice"))
	assert.False(t, room.IsMember("alice"))
	assert.True(t, room.IsMember("bob"))
}

func TestRoom_IsFull(t *testing.T) {
	room := &Room{ID: "r1"}
	assert.False(t, room.IsFull(), "no limit means never full")

	limit := 1
	room.MaxMembers = &limit
	assert.False(t, room.IsFull())
	room.AddMember("alice", time.Now())
	assert.True(t, room.IsFull())
}

func TestRoom_Bans(t *testing.T) {
	room := &Room{ID: "r1"}
	until := time.Now().Add(5 * time.Minute)

	room.SetBan("x", until)
	room.SetBan("x", until.Add(time.Minute))
	assert.Len(t, room.Bans, 1, "re-ban replaces the entry")

	ban, ok := room.BanFor("x")
	assert.True(t, ok)
	assert.Equal(t, until.Add(time.Minute), ban.BannedUntil)

	assert.True(t, room.RemoveBan("x"))
	_, ok = room.BanFor("x")
	assert.False(t, ok)
}

func TestRoom_Expiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(time.Hour)
	room := &Room{ID: "r1", ExpiresAt: &expires}

	assert.False(t, room.IsExpired(now))
	assert.True(t, room.IsExpired(expires), "expiry instant counts as expired")
	assert.Equal(t, time.Hour, room.TimeRemaining(now))
	assert.Equal(t, time.Duration(0), room.TimeRemaining(expires.Add(time.Minute)))

	legacy := &Room{ID: "r2"}
	assert.False(t, legacy.IsExpired(now))
}

func TestRoom_View(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	expires := now.Add(90 * time.Second)
	room := &Room{
		ID:           "r1",
		Name:         "lobby",
		Visibility:   VisibilityPublic,
		AdminID:      "alice",
		PasswordHash: "hash",
		ExpiresAt:    &expires,
	}
	room.AddMember("alice", now)

	v := room.View(now)
	assert.True(t, v.IsPublic)
	assert.True(t, v.HasPassword)
	assert.Equal(t, 1, v.MemberCount)
	assert.Equal(t, int64(90), v.SecondsRemaining)
}
