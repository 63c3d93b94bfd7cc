// Command main runs the database seeder for Ghostly.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/mstfsonmez/ghostly-backend/internal/config"
	"github.com/mstfsonmez/ghostly-backend/internal/database"
	"github.com/mstfsonmez/ghostly-backend/internal/seed"
)

func main() {
	// Parse command line flags
	fixtures := flag.String("fixtures", "", "YAML fixtures file (built-in rooms when empty)")
	random := flag.Int("random", 0, "Number of random rooms to generate in addition to fixtures")
	messages := flag.Int("messages", 10, "Messages per random room")
	randomSeed := flag.Int64("seed", time.Now().UnixNano(), "Seed for random rooms")
	shouldClean := flag.Bool("clean", false, "Remove every room and message before seeding")
	flag.Parse()

	log.Println("Ghostly database seeder")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() { _ = database.Close(db) }()

	s := seed.NewSeeder(db, seed.Options{RoomTTL: cfg.RoomTTL, PasswordCost: cfg.RoomPasswordCost})

	if *shouldClean {
		if err := s.ClearAll(ctx); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	fx, err := seed.LoadFixtures(*fixtures)
	if err != nil {
		log.Fatalf("Failed to load fixtures: %v", err)
	}
	created, err := s.ApplyFixtures(ctx, fx)
	if err != nil {
		log.Fatalf("Fixture seeding failed: %v", err)
	}
	log.Printf("Created %d fixture rooms", len(created))

	if *random > 0 {
		n, err := s.SeedRandom(ctx, *randomSeed, *random, *messages)
		if err != nil {
			log.Fatalf("Random seeding failed: %v", err)
		}
		log.Printf("Created %d random rooms (seed %d)", n, *randomSeed)
	}

	log.Printf("Done. Rooms expire after %s.", cfg.RoomTTL)
}
