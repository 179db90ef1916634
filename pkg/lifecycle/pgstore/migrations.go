package pgstore

import "embed"

// Migrations holds the goose migrations for the subscriptions table,
// under the "migrations" directory.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory of Migrations to pass to goose.
const MigrationsDir = "migrations"
