package history

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/veldt-labs/stagehand/internal/taskqueue"
)

// setupTestDB creates an in-memory SQLite database with the
// task_history table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema := `
		CREATE TABLE task_history (
			task_id INTEGER PRIMARY KEY,
			operation TEXT NOT NULL,
			mode TEXT NOT NULL,
			priority TEXT NOT NULL,
			success INTEGER NOT NULL,
			error TEXT,
			result_json TEXT,
			submitted_at TEXT NOT NULL,
			completed_at TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		);`
	if _, err := db.Exec(schema); err != nil {
		t.Fatalf("failed to create schema: %v", err)
	}
	return db
}

func testRecord(taskID uint32, operation string, success bool, completedAt time.Time) *Record {
	rec := &Record{
		TaskID:          taskID,
		Operation:       operation,
		Mode:            "synchronous",
		Priority:        "high",
		Success:         success,
		SubmittedAt:     completedAt.Add(-2 * time.Second),
		CompletedAt:     completedAt,
		DurationSeconds: 1.5,
	}
	if !success {
		rec.Error = "engine unavailable"
	}
	return rec
}

func TestCreateAndGet(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	completedAt := time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)
	rec := testRecord(42, "screenshot", true, completedAt)
	rec.Result = map[string]any{"path": "/tmp/shot.png"}

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := repo.Get(ctx, 42)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Operation != "screenshot" || !got.Success {
		t.Errorf("Get() = %+v, want successful screenshot", got)
	}
	if got.Result["path"] != "/tmp/shot.png" {
		t.Errorf("Get() result = %v, want stored path", got.Result)
	}
	if !got.CompletedAt.Equal(completedAt) {
		t.Errorf("Get() completed_at = %v, want %v", got.CompletedAt, completedAt)
	}
	if got.DurationSeconds != 1.5 {
		t.Errorf("Get() duration = %v, want 1.5", got.DurationSeconds)
	}
}

func TestGetNotFound(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	_, err := repo.Get(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestListFiltersAndPagination(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))
	ctx := context.Background()

	base := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	for i := uint32(1); i <= 5; i++ {
		op := "long_job"
		if i%2 == 0 {
			op = "status"
		}
		rec := testRecord(i, op, i != 3, base.Add(time.Duration(i)*time.Minute))
		if err := repo.Create(ctx, rec); err != nil {
			t.Fatalf("Create(%d) error = %v", i, err)
		}
	}

	tests := []struct {
		name      string
		filter    Filter
		wantIDs   []uint32
		wantTotal int
	}{
		{
			name:      "all newest first",
			filter:    Filter{},
			wantIDs:   []uint32{5, 4, 3, 2, 1},
			wantTotal: 5,
		},
		{
			name:      "by operation",
			filter:    Filter{Operation: "status"},
			wantIDs:   []uint32{4, 2},
			wantTotal: 2,
		},
		{
			name:      "failures only",
			filter:    Filter{Success: boolPtr(false)},
			wantIDs:   []uint32{3},
			wantTotal: 1,
		},
		{
			name:      "paginated",
			filter:    Filter{Limit: 2, Offset: 2},
			wantIDs:   []uint32{3, 2},
			wantTotal: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if result.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", result.Total, tt.wantTotal)
			}
			if len(result.Tasks) != len(tt.wantIDs) {
				t.Fatalf("got %d records, want %d", len(result.Tasks), len(tt.wantIDs))
			}
			for i, id := range tt.wantIDs {
				if result.Tasks[i].TaskID != id {
					t.Errorf("record %d = task %d, want %d", i, result.Tasks[i].TaskID, id)
				}
			}
		})
	}
}

func TestListEmptyTable(t *testing.T) {
	repo := NewSQLiteRepository(setupTestDB(t))

	result, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if result.Total != 0 || len(result.Tasks) != 0 {
		t.Errorf("List() = %+v, want empty result", result)
	}
}

func TestNewRecord(t *testing.T) {
	env, _ := taskqueue.NewEnvelope("long_job", map[string]any{"count": 3})
	res := taskqueue.Result{
		TaskID:          env.ID,
		Success:         true,
		Result:          map[string]any{"items": float64(3)},
		CompletedAt:     time.Now().UTC(),
		DurationSeconds: 12.5,
	}

	rec := NewRecord(env, res)
	if rec.TaskID != env.ID || rec.Operation != "long_job" {
		t.Errorf("NewRecord() = %+v, want envelope identity carried over", rec)
	}
	if rec.Mode != "asynchronous" || rec.Priority != "normal" {
		t.Errorf("NewRecord() mode/priority = %s/%s, want asynchronous/normal", rec.Mode, rec.Priority)
	}
	if !rec.Success || rec.DurationSeconds != 12.5 {
		t.Errorf("NewRecord() result fields = %+v, want success with duration", rec)
	}
}

func boolPtr(b bool) *bool { return &b }
