// Package migrations resolves the embedded agentpay schema for each
// supported database dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	agentpay "github.com/goliatone/go-agentpay"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	schemaDir = "data/sql/migrations"
)

// Source is the migration directory for one dialect.
type Source struct {
	Dialect string
	Dir     string
	FS      fs.FS
}

// ForDriver maps a database/sql driver name to its schema dialect.
func ForDriver(driver string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "postgres", "pgx":
		return DialectPostgres, nil
	case "sqlite", "sqlite3":
		return DialectSQLite, nil
	default:
		return "", fmt.Errorf("migrations: no schema for driver %q", driver)
	}
}

// Sources lists the embedded schema for every dialect. Postgres files sit at
// the top of the schema directory and SQLite files in its sqlite folder.
func Sources() ([]Source, error) {
	return sourcesFrom(agentpay.GetMigrationsFS())
}

func sourcesFrom(root fs.FS) ([]Source, error) {
	base, err := fs.Sub(root, schemaDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: open %s: %w", schemaDir, err)
	}
	sqlite, err := fs.Sub(base, "sqlite")
	if err != nil {
		return nil, fmt.Errorf("migrations: open sqlite schema: %w", err)
	}
	sources := []Source{
		{Dialect: DialectPostgres, Dir: schemaDir, FS: base},
		{Dialect: DialectSQLite, Dir: schemaDir + "/sqlite", FS: sqlite},
	}
	for _, source := range sources {
		if err := checkPairs(source); err != nil {
			return nil, err
		}
	}
	return sources, nil
}

// SourceFor returns the schema for dialect.
func SourceFor(dialect string) (Source, error) {
	sources, err := Sources()
	if err != nil {
		return Source{}, err
	}
	dialect = strings.ToLower(strings.TrimSpace(dialect))
	for _, source := range sources {
		if source.Dialect == dialect {
			return source, nil
		}
	}
	return Source{}, fmt.Errorf("migrations: unknown dialect %q", dialect)
}

// Apply passes the schema for dialect to register, usually a wrapper around
// the persistence client's RegisterSQLMigrations.
func Apply(ctx context.Context, dialect string, register func(ctx context.Context, source Source) error) error {
	if register == nil {
		return fmt.Errorf("migrations: register function is required")
	}
	source, err := SourceFor(dialect)
	if err != nil {
		return err
	}
	if err := register(ctx, source); err != nil {
		return fmt.Errorf("migrations: register %s schema: %w", source.Dialect, err)
	}
	return nil
}

// checkPairs requires at least one migration and a down file for every up.
func checkPairs(source Source) error {
	ups, err := fs.Glob(source.FS, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: list %s: %w", source.Dir, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s has no migrations", source.Dir)
	}
	sort.Strings(ups)
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(source.FS, down); err != nil {
			return fmt.Errorf("migrations: %s/%s has no rollback", source.Dir, up)
		}
	}
	return nil
}
