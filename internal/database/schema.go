package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mstfsonmez/ghostly-backend/internal/config"
	"github.com/mstfsonmez/ghostly-backend/internal/middleware"

	"gorm.io/gorm"
)

const (
	SchemaModeSQL  = "sql"
	SchemaModeAuto = "auto"
)

// schemaMode picks how the schema is managed: versioned SQL migrations on
// Postgres in production, GORM AutoMigrate everywhere else.
func schemaMode(cfg *config.Config) string {
	if cfg.DBDriver == "sqlite" {
		return SchemaModeAuto
	}
	if cfg.IsProduction() || strings.EqualFold(cfg.Env, "staging") {
		return SchemaModeSQL
	}
	return SchemaModeAuto
}

// ApplySchema brings the database schema up to date for cfg.
func ApplySchema(ctx context.Context, db *gorm.DB, cfg *config.Config) error {
	mode := schemaMode(cfg)
	middleware.Logger.Info("Applying database schema", slog.String("mode", mode), slog.String("env", cfg.Env))

	switch mode {
	case SchemaModeSQL:
		if err := RunMigrations(ctx, db); err != nil {
			return fmt.Errorf("run sql migrations: %w", err)
		}
	default:
		if err := AutoMigrate(db); err != nil {
			return fmt.Errorf("auto-migrate: %w", err)
		}
	}
	return nil
}

// AutoMigrate creates or updates every persistent table.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(PersistentModels()...)
}
