// Package migrations compiles the schema migration SQL into the
// binary, so a deployed stagehand needs no files beside the
// executable. Importing the package for side effects hands the
// embedded filesystem to the database layer:
//
//	import _ "github.com/veldt-labs/stagehand/migrations"
package migrations

import (
	"embed"

	"github.com/veldt-labs/stagehand/internal/infrastructure/database"
)

//go:embed *.sql
var files embed.FS

func init() {
	database.MigrationsFS = files
	database.MigrationsDir = "."
}
