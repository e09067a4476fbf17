package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
)

// Migration is one embedded schema step. Version is the file name
// without .sql; steps run in lexical order.
type Migration struct {
	Version string
	SQL     string
}

// dialect holds what differs between the supported databases.
type dialect struct {
	dir    string
	table  string
	create string
	record string
	stamp  func(time.Time) any
}

var dialects = map[DBDriver]dialect{
	DBSQLite: {
		dir:    "migrations/sqlite",
		table:  "schema_migrations",
		create: `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)`,
		record: `INSERT INTO schema_migrations(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING`,
		stamp:  func(t time.Time) any { return t.Format(time.RFC3339) },
	},
	DBPostgres: {
		dir:    "migrations/postgres",
		table:  "charter_schema_migrations",
		create: `CREATE TABLE IF NOT EXISTS charter_schema_migrations (version TEXT PRIMARY KEY, applied_at TIMESTAMPTZ NOT NULL)`,
		record: `INSERT INTO charter_schema_migrations(version, applied_at) VALUES($1, $2) ON CONFLICT(version) DO NOTHING`,
		stamp:  func(t time.Time) any { return t },
	},
}

func dialectFor(driver DBDriver) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("unsupported db driver: %s", driver)
	}
	return d, nil
}

// Migrate brings db up to the embedded ledger schema.
func Migrate(db *sql.DB, driver DBDriver) error {
	_, err := MigrateContext(context.Background(), db, driver)
	return err
}

// MigrateContext is Migrate returning the versions it applied. Each step
// claims its version row and runs its SQL in one transaction, so a step
// that fails leaves no trace and concurrent migrators apply it once.
func MigrateContext(ctx context.Context, db *sql.DB, driver DBDriver) ([]string, error) {
	if db == nil {
		return nil, fmt.Errorf("missing db")
	}
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	steps, err := Migrations(driver)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, d.create); err != nil {
		return nil, fmt.Errorf("create %s: %w", d.table, err)
	}

	var applied []string
	now := time.Now().UTC()
	for _, step := range steps {
		ok, err := applyStep(ctx, db, d, step, now)
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", step.Version, err)
		}
		if ok {
			applied = append(applied, step.Version)
		}
	}
	return applied, nil
}

func applyStep(ctx context.Context, db *sql.DB, d dialect, step Migration, now time.Time) (bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, d.record, step.Version, d.stamp(now))
	if err != nil {
		return false, err
	}
	if n, err := res.RowsAffected(); err != nil || n == 0 {
		return false, err
	}
	if _, err := tx.ExecContext(ctx, step.SQL); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// Migrations lists the embedded steps for driver in apply order.
func Migrations(driver DBDriver) ([]Migration, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	entries, err := fs.ReadDir(migrationsFS, d.dir)
	if err != nil {
		return nil, err
	}
	var out []Migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join(d.dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out = append(out, Migration{Version: strings.TrimSuffix(e.Name(), ".sql"), SQL: string(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
