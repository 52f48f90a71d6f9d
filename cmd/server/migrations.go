package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pressly/goose/v3"

	"github.com/starsorty/starsorty-api/internal/platform/postgres"
)

// slogGooseLogger routes goose output through the structured logger.
type slogGooseLogger struct {
	logger *slog.Logger
}

func (l *slogGooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *slogGooseLogger) Printf(format string, v ...any) {
	l.logger.Info(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func prepareGoose(logger *slog.Logger) error {
	goose.SetLogger(&slogGooseLogger{logger: logger.With("component", "migrations")})
	goose.SetBaseFS(postgres.MigrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	return nil
}

// migrateUp applies any pending migrations at startup so a fresh database
// is usable without a separate provisioning step.
func migrateUp(db *sql.DB, logger *slog.Logger) error {
	if err := prepareGoose(logger); err != nil {
		return err
	}
	if err := goose.Up(db, postgres.MigrationsDir); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// runMigrationCommand executes a single named migration operation for the
// -migrate flag.
func runMigrationCommand(db *sql.DB, command string, logger *slog.Logger) error {
	if err := prepareGoose(logger); err != nil {
		return err
	}

	var err error
	switch command {
	case "up":
		err = goose.Up(db, postgres.MigrationsDir)
	case "down":
		err = goose.Down(db, postgres.MigrationsDir)
	case "status":
		err = goose.Status(db, postgres.MigrationsDir)
	case "version":
		err = goose.Version(db, postgres.MigrationsDir)
	default:
		return fmt.Errorf("unknown migration command %q", command)
	}
	if err != nil {
		return fmt.Errorf("migration command %q failed: %w", command, err)
	}
	return nil
}
