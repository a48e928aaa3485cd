package sqlite

import "embed"

// Migrations holds the schema, applied in filename order by database.Migrator
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations holding the .sql files
const MigrationsDir = "migrations"
