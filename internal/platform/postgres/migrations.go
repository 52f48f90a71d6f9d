package postgres

import "embed"

// MigrationsFS embeds the goose migration scripts so the server binary can
// bring a fresh database up to date without a separate migration artifact.
//
//go:embed migrations/*.sql
var MigrationsFS embed.FS

// MigrationsDir is the path of the migration scripts inside MigrationsFS.
const MigrationsDir = "migrations"
