package main

import (
	"database/sql"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"blockshield/internal/observability"
	"blockshield/internal/persistence"
)

func main() {
	godotenv.Load()
	log := observability.NewLogger("migrate")

	dsn := os.Getenv("SHIELD_POSTGRES_URL")
	if dsn == "" {
		log.Fatal().Msg("SHIELD_POSTGRES_URL is required")
	}

	migrationsDir := os.Getenv("SHIELD_MIGRATIONS_DIR")
	if migrationsDir == "" {
		migrationsDir = "migrations"
	}

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open postgres")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("ping postgres")
	}

	migrator := persistence.NewMigrator(db, migrationsDir)

	switch direction {
	case "up":
		err = migrator.Up()
	case "down":
		err = migrator.Down()
	default:
		log.Fatal().Str("direction", direction).Msg("usage: migrate [up|down]")
	}

	if err != nil {
		log.Fatal().Err(err).Str("direction", direction).Msg("migration failed")
	}
	log.Info().Str("direction", direction).Msg("migration complete")
}
