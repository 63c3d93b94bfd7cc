// Package models holds the persisted entities and the shared error types.
package models

import (
	"time"
)

// Room visibility values.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// Room is an ephemeral group chat. ExpiresAt is fixed at creation and never
// extended; it is only nil on rows written before expiry tracking existed.
type Room struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"size:100;not null;index" json:"name"`
	Description  string     `gorm:"size:500;default:''" json:"description"`
	Visibility   string     `gorm:"size:16;not null;default:'public';index" json:"visibility"`
	CreatorID    string     `gorm:"size:64;not null" json:"creator_id"`
	AdminID      string     `gorm:"size:64;not null" json:"admin_id"`
	PasswordHash string     `gorm:"size:72" json:"-"`
	MaxMembers   *int       `json:"max_members,omitempty"`
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`
	ExpiresAt    *time.Time `gorm:"index" json:"expires_at"`

	Members []RoomMember `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
	Bans    []RoomBan    `gorm:"foreignKey:RoomID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for GORM.
func (Room) TableName() string {
	return "rooms"
}

// RoomMember is one entry of a room's member set.
type RoomMember struct {
	RoomID   string    `gorm:"primaryKey;size:36" json:"room_id"`
	UserID   string    `gorm:"primaryKey;size:64" json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}

// TableName specifies the table name for GORM.
func (RoomMember) TableName() string {
	return "room_members"
}

// RoomBan blocks a kicked user from rejoining until BannedUntil.
type RoomBan struct {
	RoomID      string    `gorm:"primaryKey;size:36" json:"room_id"`
	UserID      string    `gorm:"primaryKey;size:64" json:"user_id"`
	BannedUntil time.Time `gorm:"not null" json:"banned_until"`
}

// TableName specifies the table name for GORM.
func (RoomBan) TableName() string {
	return "room_bans"
}

// HasPassword reports whether joining requires a password.
func (r *Room) HasPassword() bool {
	return r.PasswordHash != ""
}

// IsMember reports whether userID is in the member set.
func (r *Room) IsMember(userID string) bool {
	for _, m := range r.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// MemberIDs returns the member user ids in stored order.
func (r *Room) MemberIDs() []string {
	ids := make([]string, 0, len(r.Members))
	for _, m := range r.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// AddMember appends userID unless it is already present.
func (r *Room) AddMember(userID string, at time.Time) bool {
	if r.IsMember(userID) {
		return false
	}
	r.Members = append(r.Members, RoomMember{RoomID: r.ID, UserID: userID, JoinedAt: at})
	return true
}

// RemoveMember drops userID from the member set.
func (r *Room) RemoveMember(userID string) bool {
	for i, m := range r.Members {
		if m.UserID == userID {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// BanFor returns the ban entry for userID, if any.
func (r *Room) BanFor(userID string) (RoomBan, bool) {
	for _, b := range r.Bans {
		if b.UserID == userID {
			return b, true
		}
	}
	return RoomBan{}, false
}

// SetBan replaces any ban for userID with one ending at until.
func (r *Room) SetBan(userID string, until time.Time) {
	r.RemoveBan(userID)
	r.Bans = append(r.Bans, RoomBan{RoomID: r.ID, UserID: userID, BannedUntil: until})
}

// RemoveBan drops the ban entry for userID.
func (r *Room) RemoveBan(userID string) bool {
	for i, b := range r.Bans {
		if b.UserID == userID {
			r.Bans = append(r.Bans[:i], r.Bans[i+1:]...)
			return true
		}
	}
	return false
}

// IsFull reports whether the member count has reached MaxMembers.
func (r *Room) IsFull() bool {
	return r.MaxMembers != nil && len(r.Members) >= *r.MaxMembers
}

// IsExpired reports whether the room outlived its expiry at now.
func (r *Room) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && !now.Before(*r.ExpiresAt)
}

// TimeRemaining is the time left until expiry, floored at zero.
func (r *Room) TimeRemaining(now time.Time) time.Duration {
	if r.ExpiresAt == nil {
		return 0
	}
	d := r.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// RoomView is the client-facing shape of a room.
type RoomView struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	Description      string    `json:"description"`
	Visibility       string    `json:"visibility"`
	IsPublic         bool      `json:"is_public"`
	CreatorID        string    `json:"creator_id"`
	AdminID          string    `json:"admin_id"`
	Members          []string  `json:"members"`
	MemberCount      int       `json:"member_count"`
	MaxMembers       *int      `json:"max_members,omitempty"`
	HasPassword      bool      `json:"has_password"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	SecondsRemaining int64     `json:"seconds_remaining"`
}

// View builds the client-facing representation of r at now.
func (r *Room) View(now time.Time) RoomView {
	v := RoomView{
		ID:               r.ID,
		Name:             r.Name,
		Description:      r.Description,
		Visibility:       r.Visibility,
		IsPublic:         r.Visibility == VisibilityPublic,
		CreatorID:        r.CreatorID,
		AdminID:          r.AdminID,
		Members:          r.MemberIDs(),
		MemberCount:      len(r.Members),
		MaxMembers:       r.MaxMembers,
		HasPassword:      r.HasPassword(),
		CreatedAt:        r.CreatedAt,
		SecondsRemaining: int64(r.TimeRemaining(now) / time.Second),
	}
	if r.ExpiresAt != nil {
		v.ExpiresAt = *r.ExpiresAt
	}
	return v
}
