// Package migrations embeds SQL migration files into the binary.
//
// This lets the agent run migrations without the SQL files being
// present on the device filesystem - they're compiled into the
// executable.
package migrations

import (
	"embed"

	"github.com/tidemark-io/tidemark-edge/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	// Register embedded migrations with the database package.
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
