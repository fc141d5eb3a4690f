// Package db holds the account schema migrations.
package db

import "embed"

// MigrationFS embeds SQL migration files from internal/db/migrations.
// Used by the migrate runner and by cmd/sessionauth-server at startup.
//
//go:embed migrations/*.sql
var MigrationFS embed.FS
