package agentpay

import (
	"embed"
	"io/fs"
)

// migrationsFS holds the Postgres schema and its SQLite alternative under
// data/sql/migrations/sqlite.
//
//go:embed data/sql/migrations/*.sql data/sql/migrations/sqlite/*.sql
var migrationsFS embed.FS

func GetMigrationsFS() fs.FS {
	return migrationsFS
}
