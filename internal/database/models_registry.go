package database

import "github.com/mstfsonmez/ghostly-backend/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.Room{},
		&models.RoomMember{},
		&models.RoomBan{},
		&models.RoomMessage{},
	}
}
