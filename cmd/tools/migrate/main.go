package main

import (
	"errors"
	"flag"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/presale-api/internal/db"
)

func main() {
	direction := flag.String("direction", "up", "up or down")
	steps := flag.Int("steps", 0, "number of migrations to apply; 0 applies all (down requires steps)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := db.NewMigrator(dbURL)
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer func() { _, _ = m.Close() }()

	switch {
	case *direction == "up" && *steps == 0:
		err = db.RunMigrations(m)
	case *direction == "up":
		err = m.Steps(*steps)
	case *direction == "down" && *steps > 0:
		err = m.Steps(-*steps)
	case *direction == "down":
		log.Fatal("down requires -steps > 0")
	default:
		log.Fatalf("unknown direction %q", *direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate %s: %v", *direction, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("database has no migrations applied")
	case err != nil:
		log.Fatalf("read version: %v", err)
	default:
		log.Printf("database at version %d (dirty=%t)", version, dirty)
	}
}
