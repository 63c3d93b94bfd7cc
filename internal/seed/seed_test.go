package seed

import (
	"context"
	"testing"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/database"
	"github.com/mstfsonmez/ghostly-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(database.PersistentModels()...); err != nil {
		t.Fatalf("Failed to migrate database: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func newTestSeeder(db *gorm.DB, now time.Time) *Seeder {
	return NewSeeder(db, Options{
		PasswordCost: bcrypt.MinCost,
		Now:          func() time.Time { return now },
	})
}

func TestLoadFixtures_Default(t *testing.T) {
	fx, err := LoadFixtures("")
	require.NoError(t, err)
	require.NotEmpty(t, fx.Rooms)
	assert.Equal(t, "Lobby", fx.Rooms[0].Name)
}

func TestParseFixtures_Validation(t *testing.T) {
	cases := map[string]string{
		"missing name":   "rooms:\n  - admin: a\n",
		"missing admin":  "rooms:\n  - name: x\n",
		"empty message":  "rooms:\n  - name: x\n    admin: a\n    messages:\n      - author: a\n",
		"malformed yaml": "rooms: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestApplyFixtures(t *testing.T) {
	db := setupTestDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTestSeeder(db, now)
	ctx := context.Background()

	fx, err := ParseFixtures([]byte(`
rooms:
  - name: Garden
    admin: rose
    members: [lily]
    messages:
      - author: tulip
        text: first
      - author: rose
        text: second
  - name: Vault
    visibility: Private
    password: hunter2
    admin: rose
`))
	require.NoError(t, err)

	created, err := s.ApplyFixtures(ctx, fx)
	require.NoError(t, err)
	require.Len(t, created, 2)

	garden := created[0]
	assert.Equal(t, []string{"rose", "lily", "tulip"}, garden.MemberIDs())
	require.NotNil(t, garden.ExpiresAt)
	assert.Equal(t, now.Add(12*time.Hour), *garden.ExpiresAt)

	var msgs []models.RoomMessage
	require.NoError(t, db.Where("room_id = ?", garden.ID).Order("created_at ASC").Find(&msgs).Error)
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "tulip", msgs[0].AuthorID)

	vault := created[1]
	assert.Equal(t, models.VisibilityPrivate, vault.Visibility)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(vault.PasswordHash), []byte("hunter2")))

	// second run finds both rooms alive and creates nothing
	again, err := s.ApplyFixtures(ctx, fx)
	require.NoError(t, err)
	assert.Empty(t, again)

	var count int64
	require.NoError(t, db.Model(&models.Room{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestApplyFixtures_RecreatesExpiredRoom(t *testing.T) {
	db := setupTestDB(t)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fx := &Fixtures{Rooms: []RoomFixture{{Name: "Lobby", Admin: "host"}}}

	_, err := newTestSeeder(db, start).ApplyFixtures(context.Background(), fx)
	require.NoError(t, err)

	created, err := newTestSeeder(db, start.Add(13*time.Hour)).ApplyFixtures(context.Background(), fx)
	require.NoError(t, err)
	assert.Len(t, created, 1)
}

func TestClearAll(t *testing.T) {
	db := setupTestDB(t)
	s := newTestSeeder(db, time.Now().UTC())
	ctx := context.Background()

	n, err := s.SeedRandom(ctx, 7, 3, 4)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	require.NoError(t, s.ClearAll(ctx))
	for _, model := range []interface{}{&models.Room{}, &models.RoomMember{}, &models.RoomMessage{}} {
		var count int64
		require.NoError(t, db.Model(model).Count(&count).Error)
		assert.Zero(t, count, "%T", model)
	}
}

func TestRandomFixtures_Deterministic(t *testing.T) {
	a := RandomFixtures(42, 4, 2)
	b := RandomFixtures(42, 4, 2)
	assert.Equal(t, a, b)
	require.Len(t, a.Rooms, 4)
	for _, r := range a.Rooms {
		assert.Len(t, r.Messages, 2)
		assert.Contains(t, r.Members, r.Admin)
	}
}
