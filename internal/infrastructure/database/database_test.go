package database

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func openTestDB(t *testing.T, cfg Config) *DB {
	t.Helper()

	if cfg.Path == "" {
		cfg.Path = filepath.Join(t.TempDir(), "stagehand.db")
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5
	}

	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "stagehand.db")
	db := openTestDB(t, Config{Path: path})

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("database directory not created: %v", err)
	}
}

func TestOpenWALMode(t *testing.T) {
	db := openTestDB(t, Config{WALMode: true})

	// Force the file into existence, then check the journal mode.
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "CREATE TABLE t (id INTEGER)"); err != nil {
		t.Fatalf("create table: %v", err)
	}

	var mode string
	if err := db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("pragma journal_mode: %v", err)
	}
	if !strings.EqualFold(mode, "wal") {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want []string
	}{
		{
			name: "basic",
			cfg:  Config{Path: "/tmp/s.db", BusyTimeout: 5},
			want: []string{"_busy_timeout=5000", "_foreign_keys=on"},
		},
		{
			name: "wal",
			cfg:  Config{Path: "/tmp/s.db", BusyTimeout: 10, WALMode: true},
			want: []string{"_busy_timeout=10000", "_journal_mode=WAL", "_synchronous=NORMAL"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dsn(tt.cfg)
			for _, fragment := range tt.want {
				if !strings.Contains(got, fragment) {
					t.Errorf("dsn() = %q, missing %q", got, fragment)
				}
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	db := openTestDB(t, Config{})

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error: %v", err)
	}

	db.Close()
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close expected error, got nil")
	}
}

func TestCloseNilSafe(t *testing.T) {
	db := &DB{}
	if err := db.Close(); err != nil {
		t.Errorf("Close() on zero DB error: %v", err)
	}
}

func TestStats(t *testing.T) {
	db := openTestDB(t, Config{})

	stats := db.Stats()
	if stats.MaxOpenConnections != 1 {
		t.Errorf("MaxOpenConnections = %d, want 1", stats.MaxOpenConnections)
	}
}
