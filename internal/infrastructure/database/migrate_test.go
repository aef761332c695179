package database

import (
	"context"
	"testing"
	"testing/fstest"
)

// withMigrations points MigrationsFS at an in-memory filesystem for
// the duration of a test.
func withMigrations(t *testing.T, files map[string]string) {
	t.Helper()

	fsys := fstest.MapFS{}
	for name, sql := range files {
		fsys[name] = &fstest.MapFile{Data: []byte(sql)}
	}

	prevFS, prevDir := MigrationsFS, MigrationsDir
	MigrationsFS, MigrationsDir = fsys, "."
	t.Cleanup(func() {
		MigrationsFS, MigrationsDir = prevFS, prevDir
	})
}

func TestMigrateAppliesInOrder(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260801_120000_create_tasks.up.sql":   "CREATE TABLE tasks (id INTEGER PRIMARY KEY)",
		"20260801_120000_create_tasks.down.sql": "DROP TABLE tasks",
		"20260802_090000_add_mode.up.sql":       "ALTER TABLE tasks ADD COLUMN mode TEXT",
		"20260802_090000_add_mode.down.sql":     "ALTER TABLE tasks DROP COLUMN mode",
	})

	db := openTestDB(t, Config{})
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}

	// Both migrations landed: the column from the second exists.
	if _, err := db.ExecContext(ctx, "INSERT INTO tasks (id, mode) VALUES (1, 'synchronous')"); err != nil {
		t.Fatalf("schema incomplete after Migrate(): %v", err)
	}

	var versions []string
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatal(err)
		}
		versions = append(versions, v)
	}
	if len(versions) != 2 || versions[0] != "20260801_120000" || versions[1] != "20260802_090000" {
		t.Errorf("recorded versions = %v, want both in order", versions)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260801_120000_create_tasks.up.sql": "CREATE TABLE tasks (id INTEGER PRIMARY KEY)",
	})

	db := openTestDB(t, Config{})
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("first Migrate() error: %v", err)
	}
	// A second run finds nothing pending; CREATE TABLE would fail if
	// it re-ran.
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error: %v", err)
	}
}

func TestMigrateFailureRollsBack(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260801_120000_create_tasks.up.sql": "CREATE TABLE tasks (id INTEGER PRIMARY KEY)",
		"20260802_090000_broken.up.sql":       "THIS IS NOT SQL",
	})

	db := openTestDB(t, Config{})
	ctx := context.Background()

	if err := db.Migrate(ctx); err == nil {
		t.Fatal("Migrate() with broken SQL expected error, got nil")
	}

	// The first migration stays committed, the broken one is not
	// recorded.
	if _, err := db.ExecContext(ctx, "INSERT INTO tasks (id) VALUES (1)"); err != nil {
		t.Errorf("earlier migration rolled back: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM schema_migrations WHERE version = ?", "20260802_090000",
	).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Error("failed migration was recorded as applied")
	}
}

func TestMigrateDown(t *testing.T) {
	withMigrations(t, map[string]string{
		"20260801_120000_create_tasks.up.sql":   "CREATE TABLE tasks (id INTEGER PRIMARY KEY)",
		"20260801_120000_create_tasks.down.sql": "DROP TABLE tasks",
	})

	db := openTestDB(t, Config{})
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error: %v", err)
	}
	if err := db.MigrateDown(ctx); err != nil {
		t.Fatalf("MigrateDown() error: %v", err)
	}

	if _, err := db.ExecContext(ctx, "INSERT INTO tasks (id) VALUES (1)"); err == nil {
		t.Error("table still exists after MigrateDown()")
	}
	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("schema_migrations has %d rows after rollback, want 0", count)
	}
}

func TestMigrateNoFilesystem(t *testing.T) {
	prevFS := MigrationsFS
	MigrationsFS = nil
	t.Cleanup(func() { MigrationsFS = prevFS })

	db := openTestDB(t, Config{})
	if err := db.Migrate(context.Background()); err != nil {
		t.Errorf("Migrate() with no migrations error: %v", err)
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		filename string
		version  string
		name     string
		isUp     bool
		ok       bool
	}{
		{"20260801_120000_create_tasks.up.sql", "20260801_120000", "create_tasks", true, true},
		{"20260801_120000_create_tasks.down.sql", "20260801_120000", "create_tasks", false, true},
		{"20260801_120000_multi_word_name.up.sql", "20260801_120000", "multi_word_name", true, true},
		{"README.md", "", "", false, false},
		{"notes.sql", "", "", false, false},
		{"20260801.up.sql", "", "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			version, name, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			if version != tt.version || name != tt.name || isUp != tt.isUp {
				t.Errorf("parsed (%q, %q, %v), want (%q, %q, %v)",
					version, name, isUp, tt.version, tt.name, tt.isUp)
			}
		})
	}
}
