package models

import "time"

// RoomMessage is a persisted room chat line.
type RoomMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    string    `gorm:"size:36;not null;index:idx_room_messages_room_author" json:"room_id"`
	AuthorID  string    `gorm:"size:64;not null;index:idx_room_messages_room_author" json:"author_id"`
	Nickname  string    `gorm:"size:64" json:"nickname"`
	Text      string    `gorm:"type:text;not null" json:"message"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// TableName specifies the table name for GORM.
func (RoomMessage) TableName() string {
	return "room_messages"
}

// ChannelSummary describes a room the user has posted in.
type ChannelSummary struct {
	RoomID      string       `json:"room_id"`
	RoomName    string       `json:"room_name"`
	LastMessage *RoomMessage `json:"last_message,omitempty"`
	UnreadCount int64        `json:"unread_count"`
}
