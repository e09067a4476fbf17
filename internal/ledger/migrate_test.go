package ledger

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db, err := sql.Open("sqlite", "file:migrate_idem?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()

	applied, err := MigrateContext(context.Background(), db, DBSQLite)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if len(applied) != 2 || applied[0] != "0001_init" || applied[1] != "0002_approvals" {
		t.Fatalf("unexpected applied versions: %v", applied)
	}
	again, err := MigrateContext(context.Background(), db, DBSQLite)
	if err != nil {
		t.Fatalf("migrate second: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected nothing applied on second run, got %v", again)
	}

	for _, table := range []string{"constitutions", "receipts", "approvals", "chain_heads"} {
		var name string
		if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name); err != nil {
			t.Fatalf("expected %s table: %v", table, err)
		}
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count < 2 {
		t.Fatalf("expected at least 2 migrations applied, got %d", count)
	}
}

func TestMigrationsAreOrderedPerDriver(t *testing.T) {
	for _, driver := range []DBDriver{DBSQLite, DBPostgres} {
		steps, err := Migrations(driver)
		if err != nil {
			t.Fatalf("%s migrations: %v", driver, err)
		}
		if len(steps) != 2 || steps[0].Version != "0001_init" || steps[1].Version != "0002_approvals" {
			t.Fatalf("unexpected %s migrations: %+v", driver, steps)
		}
		for _, step := range steps {
			if !strings.Contains(step.SQL, "CREATE TABLE") {
				t.Fatalf("%s %s has no DDL", driver, step.Version)
			}
		}
	}
	if d, err := dialectFor(DBPostgres); err != nil || d.table != "charter_schema_migrations" {
		t.Fatalf("expected postgres dialect, got %q %v", d.table, err)
	}
}

func TestMigrateRejectsBadInput(t *testing.T) {
	if _, err := Migrations(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if err := Migrate(nil, DBSQLite); err == nil {
		t.Fatalf("expected error for nil db")
	}
	db, err := sql.Open("sqlite", "file:migrate_bad?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db, DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
