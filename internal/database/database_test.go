package database

import (
	"context"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/mstfsonmez/ghostly-backend/internal/config"
	"github.com/mstfsonmez/ghostly-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnect_SQLiteAutoMigrates(t *testing.T) {
	cfg := &config.Config{
		Env:      "test",
		DBDriver: "sqlite",
		DBPath:   filepath.Join(t.TempDir(), "ghostly.db"),
	}

	db, err := Connect(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = Close(db) }()

	for _, model := range PersistentModels() {
		assert.True(t, db.Migrator().HasTable(model), "missing table for %T", model)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	require.NoError(t, db.Create(&models.Room{ID: "r1", Name: "lobby", CreatorID: "a", AdminID: "a"}).Error)
}

func TestSchemaMode(t *testing.T) {
	assert.Equal(t, SchemaModeAuto, schemaMode(&config.Config{DBDriver: "sqlite", Env: "production"}))
	assert.Equal(t, SchemaModeSQL, schemaMode(&config.Config{DBDriver: "postgres", Env: "production"}))
	assert.Equal(t, SchemaModeSQL, schemaMode(&config.Config{DBDriver: "postgres", Env: "staging"}))
	assert.Equal(t, SchemaModeAuto, schemaMode(&config.Config{DBDriver: "postgres", Env: "development"}))
}

func TestLoadMigrations_Embedded(t *testing.T) {
	migrations, err := LoadMigrations(migrationFS, "migrations")
	require.NoError(t, err)
	require.NotEmpty(t, migrations)
	assert.Equal(t, 1, migrations[0].Version)
	assert.Equal(t, "create_rooms", migrations[0].Name)
	assert.Contains(t, migrations[0].UpScript, "CREATE TABLE IF NOT EXISTS rooms")
	assert.Contains(t, migrations[0].DownScript, "DROP TABLE IF EXISTS rooms")
}

func TestLoadMigrations_OrderAndValidation(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000002_second.up.sql":   {Data: []byte("SELECT 2;")},
		"m/000002_second.down.sql": {Data: []byte("SELECT -2;")},
		"m/000001_first.up.sql":    {Data: []byte("SELECT 1;")},
		"m/000001_first.down.sql":  {Data: []byte("SELECT -1;")},
		"m/bogus.up.sql":           {Data: []byte("SELECT 0;")},
	}

	migrations, err := LoadMigrations(fsys, "m")
	require.NoError(t, err)
	require.Len(t, migrations, 2)
	assert.Equal(t, "000001_first", migrations[0].String())
	assert.Equal(t, "000002_second", migrations[1].String())

	assert.NoError(t, validateAppliedVersions([]int{1}, migrations))
	assert.ErrorContains(t, validateAppliedVersions([]int{1, 7}, migrations), "000007")
}

func TestLoadMigrations_MissingDown(t *testing.T) {
	fsys := fstest.MapFS{
		"m/000001_first.up.sql": {Data: []byte("SELECT 1;")},
	}
	_, err := LoadMigrations(fsys, "m")
	assert.Error(t, err)
}
