package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	agentpay "github.com/goliatone/go-agentpay"
	_ "github.com/mattn/go-sqlite3"
)

func TestSources_CoverBothDialects(t *testing.T) {
	sources, err := Sources()
	if err != nil {
		t.Fatalf("sources: %v", err)
	}
	seen := map[string]bool{}
	for _, source := range sources {
		matches, globErr := fs.Glob(source.FS, "*.up.sql")
		if globErr != nil || len(matches) == 0 {
			t.Fatalf("expected %s migrations, got %v (%v)", source.Dialect, matches, globErr)
		}
		seen[source.Dialect] = true
	}
	if !seen[DialectPostgres] || !seen[DialectSQLite] {
		t.Fatalf("expected postgres and sqlite sources, got %v", seen)
	}
}

func TestApply_PassesOnlyRequestedDialect(t *testing.T) {
	var calls []string
	err := Apply(context.Background(), "SQLite", func(_ context.Context, source Source) error {
		calls = append(calls, source.Dialect)
		return nil
	})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(calls) != 1 || calls[0] != DialectSQLite {
		t.Fatalf("expected a single sqlite registration, got %v", calls)
	}
	if err := Apply(context.Background(), "mysql", func(context.Context, Source) error { return nil }); err == nil {
		t.Fatalf("expected unknown dialect rejected")
	}
	if err := Apply(context.Background(), DialectSQLite, nil); err == nil {
		t.Fatalf("expected missing register function rejected")
	}
}

func TestForDriver(t *testing.T) {
	cases := map[string]string{"sqlite3": DialectSQLite, "postgres": DialectPostgres, " PGX ": DialectPostgres}
	for driver, want := range cases {
		got, err := ForDriver(driver)
		if err != nil || got != want {
			t.Fatalf("driver %q: got %q (%v), want %q", driver, got, err, want)
		}
	}
	if _, err := ForDriver("oracle"); err == nil {
		t.Fatalf("expected unsupported driver rejected")
	}
}

func TestSourcesFrom_RequiresRollbacks(t *testing.T) {
	root := fstest.MapFS{
		"data/sql/migrations/00001_init.up.sql":        {Data: []byte("CREATE TABLE a (id TEXT);")},
		"data/sql/migrations/00001_init.down.sql":      {Data: []byte("DROP TABLE a;")},
		"data/sql/migrations/sqlite/00001_init.up.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
	}
	if _, err := sourcesFrom(root); err == nil || !strings.Contains(err.Error(), "rollback") {
		t.Fatalf("expected missing sqlite rollback reported, got %v", err)
	}
}

func TestSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := agentpay.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_agentpay_schema.up.sql",
		"data/sql/migrations/00001_agentpay_schema.down.sql",
		"data/sql/migrations/sqlite/00001_agentpay_schema.up.sql",
		"data/sql/migrations/sqlite/00001_agentpay_schema.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if !strings.Contains(string(content), "agentpay_agents") {
			t.Fatalf("expected migration %s to touch agentpay_agents", migrationPath)
		}
	}
}

func TestSQLiteSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-agentpay-schema?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	sqliteMigrations, err := fs.Sub(agentpay.GetMigrationsFS(), "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_agentpay_schema.up.sql"); err != nil {
		t.Fatalf("apply schema up: %v", err)
	}

	requiredTables := []string{
		"agentpay_agents",
		"agentpay_access_tokens",
		"agentpay_step_up_requests",
		"agentpay_transactions",
		"agentpay_authorization_grants",
		"agentpay_oauth_clients",
		"agentpay_webhook_subscriptions",
		"agentpay_webhook_delivery_logs",
		"agentpay_notification_dispatches",
	}
	for _, tableName := range requiredTables {
		if got := countTables(t, db, tableName); got != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertAgent := `INSERT INTO agentpay_agents (
		id, owner_id, client_id, client_secret_hash, name,
		per_transaction_limit, daily_limit, monthly_limit, currency, status
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertAgent, "ag_1", "owner_1", "apc_1", "hash", "shopper", 1000, 5000, 20000, "USD", "active"); err != nil {
		t.Fatalf("insert agent: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertAgent, "ag_2", "owner_1", "apc_1", "hash", "dup", 1000, 5000, 20000, "USD", "active"); err == nil {
		t.Fatalf("expected duplicate client_id to be rejected")
	}
	if _, err := db.ExecContext(ctx, insertAgent, "ag_3", "owner_1", "apc_3", "hash", "bad", 1000, 5000, 20000, "USD", "deleted"); err == nil {
		t.Fatalf("expected unknown agent status to be rejected")
	}

	insertGrant := `INSERT INTO agentpay_authorization_grants (
		id, flow, client_id, status, user_code, expires_at
	) VALUES (?, ?, ?, ?, ?, ?)`
	for _, id := range []string{"gr_1", "gr_2"} {
		if _, err := db.ExecContext(ctx, insertGrant, id, "authorization_code", "client_1", "pending", nil, "2026-01-01T00:00:00Z"); err != nil {
			t.Fatalf("expected null user codes to coexist, insert %s: %v", id, err)
		}
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_agentpay_schema.down.sql"); err != nil {
		t.Fatalf("apply schema down: %v", err)
	}
	for _, tableName := range requiredTables {
		if got := countTables(t, db, tableName); got != 0 {
			t.Fatalf("expected table %s to be dropped after down migration", tableName)
		}
	}
}

func countTables(t *testing.T, db *sql.DB, name string) int {
	t.Helper()
	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		name,
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master for %s: %v", name, err)
	}
	return count
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
