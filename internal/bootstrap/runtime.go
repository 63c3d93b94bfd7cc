// Package bootstrap wires the storage dependencies shared by the commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mstfsonmez/ghostly-backend/internal/cache"
	"github.com/mstfsonmez/ghostly-backend/internal/config"
	"github.com/mstfsonmez/ghostly-backend/internal/database"
	"github.com/mstfsonmez/ghostly-backend/internal/middleware"
	"github.com/mstfsonmez/ghostly-backend/internal/seed"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options control runtime initialization behavior.
type Options struct {
	SeedFixtures bool
}

// InitRuntime connects to DB and Redis and optionally applies fixture rooms.
// The Redis client is nil when Redis is not configured or unreachable.
func InitRuntime(ctx context.Context, cfg *config.Config, opts Options) (*gorm.DB, *redis.Client, error) {
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}

	rdb := cache.InitRedis(ctx, cfg.RedisURL)

	if opts.SeedFixtures {
		if err := seedFixtures(ctx, cfg, db); err != nil {
			_ = database.Close(db)
			if rdb != nil {
				_ = rdb.Close()
			}
			return nil, nil, fmt.Errorf("failed to seed fixture rooms: %w", err)
		}
	}

	return db, rdb, nil
}

func seedFixtures(ctx context.Context, cfg *config.Config, db *gorm.DB) error {
	fx, err := seed.LoadFixtures(cfg.SeedFixtures)
	if err != nil {
		return err
	}
	created, err := seed.NewSeeder(db, seed.Options{
		RoomTTL:      cfg.RoomTTL,
		PasswordCost: cfg.RoomPasswordCost,
	}).ApplyFixtures(ctx, fx)
	if err != nil {
		return err
	}
	middleware.Logger.Info("Startup fixtures applied", slog.Int("rooms_created", len(created)))
	return nil
}
