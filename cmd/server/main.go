// Package main is the entry point for the starsorty API server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/starsorty/starsorty-api/internal/config"
	"github.com/starsorty/starsorty-api/internal/platform/logger"
)

func main() {
	migrateCmd := flag.String(
		"migrate", "", "run a migration command (up, down, status, version) and exit")
	flag.Parse()

	if err := runServer(*migrateCmd); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// runServer wires the full application and blocks until shutdown. When a
// migration command is given the server never starts; the command runs
// against the configured database and the process exits.
func runServer(migrateCmd string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	log.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"classify_mode", cfg.Classify.Mode,
		"llm_provider", cfg.LLM.Provider)

	db, err := setupDatabase(cfg, log)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		defer func() { _ = db.Close() }()
		return runMigrationCommand(db, migrateCmd, log)
	}

	if err := migrateUp(db, log); err != nil {
		_ = db.Close()
		return err
	}

	ctx := context.Background()
	app, err := newApplication(ctx, cfg, log, db)
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer app.cleanup()

	return app.Run(ctx)
}
