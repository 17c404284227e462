// cmd/seeder/main.go
package main

import (
	"context"
	"os"
	"path/filepath"
	"sort"

	"github.com/unclebandit/cart-recovery-service/internal/config"
	"github.com/unclebandit/cart-recovery-service/internal/db"
	"github.com/unclebandit/cart-recovery-service/internal/logging"
)

// Applies migrations/*.sql then seed/*.sql in name order. Every file is
// written to be re-runnable.
func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("info", "json")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logging.Component(logging.New(cfg.LogLevel, cfg.LogFormat), "seeder")

	ctx := context.Background()
	conn, err := db.Open(ctx, cfg.DB.DSN(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect")
	}
	defer conn.Close()

	for _, pattern := range []string{"migrations/*.sql", "seed/*.sql"} {
		files, err := filepath.Glob(pattern)
		if err != nil {
			log.Fatal().Err(err).Str("pattern", pattern).Msg("bad glob")
		}
		sort.Strings(files)

		for _, file := range files {
			content, err := os.ReadFile(file)
			if err != nil {
				log.Fatal().Err(err).Str("file", file).Msg("failed to read")
			}
			if _, err := conn.ExecContext(ctx, string(content)); err != nil {
				log.Fatal().Err(err).Str("file", file).Msg("failed to execute")
			}
			log.Info().Str("file", file).Msg("applied")
		}
	}

	log.Info().Msg("Database seeding completed successfully!")
}
