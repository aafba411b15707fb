// Command migrate applies or inspects database schema migrations. It
// reads the same configuration surface as the service, so DATABASE_URL
// or the tradehawk config file both work.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/tradehawk/internal/config"
	"github.com/ajitpratap0/tradehawk/internal/db"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (defaults to ./configs/config.yaml)")
	migrationsDir := flag.String("migrations", "migrations", "Path to migrations directory")
	status := flag.Bool("status", false, "Show migration status instead of applying")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := config.InitLogger(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}

	dsn := cfg.Database.GetDSN()
	if url := os.Getenv("DATABASE_URL"); url != "" {
		dsn = url
	}

	database, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close()

	ctx := context.Background()
	if err := database.PingContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to reach database")
	}

	migrator := db.NewMigrator(database, *migrationsDir)
	if *status {
		if err := migrator.Status(ctx); err != nil {
			log.Fatal().Err(err).Msg("Migration status check failed")
		}
		return
	}
	if err := migrator.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
}
