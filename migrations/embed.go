// Package migrations embeds the SQL schema into the deviceguard binary.
package migrations

import (
	"embed"

	"github.com/nerrad567/deviceguard/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
