// Package migrations embeds SQL migration files into the binary.
//
// The bridge runs migrations without needing the SQL files present on the
// filesystem; they're compiled into the executable.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-ble/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

// Source returns the embedded migrations. Files are at the root of the FS.
func Source() database.Migrations {
	return database.Migrations{FS: migrationsFS, Dir: "."}
}
