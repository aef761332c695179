// Package history provides access to the task_history table: the
// durable record of every task that reached a terminal state.
//
// In-flight state is process memory only; a restart loses the queue by
// design. History is what survives, written by the worker's completion
// hook and served by the task listing endpoints.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/veldt-labs/stagehand/internal/taskqueue"
)

// ErrNotFound is returned when no record exists for a task id.
var ErrNotFound = errors.New("task record not found")

// Record is one completed task.
type Record struct {
	TaskID          uint32         `json:"task_id"`
	Operation       string         `json:"operation"`
	Mode            string         `json:"mode"`
	Priority        string         `json:"priority"`
	Success         bool           `json:"success"`
	Error           string         `json:"error,omitempty"`
	Result          map[string]any `json:"result,omitempty"`
	SubmittedAt     time.Time      `json:"submitted_at"`
	CompletedAt     time.Time      `json:"completed_at"`
	DurationSeconds float64        `json:"duration_seconds"`
}

// NewRecord builds a history record from an executed envelope and its
// result.
func NewRecord(env *taskqueue.Envelope, res taskqueue.Result) *Record {
	return &Record{
		TaskID:          env.ID,
		Operation:       env.Operation,
		Mode:            env.Mode.String(),
		Priority:        env.Priority.String(),
		Success:         res.Success,
		Error:           res.Error,
		Result:          res.Result,
		SubmittedAt:     env.CreatedAt,
		CompletedAt:     res.CompletedAt,
		DurationSeconds: res.DurationSeconds,
	}
}

// Filter controls which records List returns.
type Filter struct {
	Operation string // optional: filter by operation name
	Success   *bool  // optional: filter by outcome
	Limit     int    // default 50, max 200
	Offset    int    // pagination offset
}

// ListResult contains paginated history records.
type ListResult struct {
	Tasks  []Record `json:"tasks"`
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
}

// Repository defines the interface for task history operations.
type Repository interface {
	Create(ctx context.Context, rec *Record) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Get(ctx context.Context, taskID uint32) (*Record, error)
}

// SQLiteRepository stores task history in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new task history repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts a completed task record.
func (r *SQLiteRepository) Create(ctx context.Context, rec *Record) error {
	var resultJSON any
	if rec.Result != nil {
		b, err := json.Marshal(rec.Result)
		if err != nil {
			return fmt.Errorf("marshalling task result: %w", err)
		}
		resultJSON = string(b)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO task_history (task_id, operation, mode, priority, success, error, result_json, submitted_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Operation, rec.Mode, rec.Priority,
		boolToInt(rec.Success), nullableString(rec.Error), resultJSON,
		rec.SubmittedAt.Format(time.RFC3339),
		rec.CompletedAt.Format(time.RFC3339),
		int64(rec.DurationSeconds*1000),
	)
	if err != nil {
		return fmt.Errorf("inserting task record: %w", err)
	}
	return nil
}

// List returns history records, newest completion first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var (
		conditions []string
		args       []any
	)
	if filter.Operation != "" {
		conditions = append(conditions, "operation = ?")
		args = append(args, filter.Operation)
	}
	if filter.Success != nil {
		conditions = append(conditions, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_history"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting task records: %w", err)
	}

	query := `SELECT task_id, operation, mode, priority, success, error, result_json, submitted_at, completed_at, duration_ms
		 FROM task_history` + where + ` ORDER BY completed_at DESC, task_id DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying task records: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only query cleanup

	result := &ListResult{
		Tasks:  []Record{},
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		result.Tasks = append(result.Tasks, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating task records: %w", err)
	}
	return result, nil
}

// Get returns the record for one task id, or ErrNotFound.
func (r *SQLiteRepository) Get(ctx context.Context, taskID uint32) (*Record, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT task_id, operation, mode, priority, success, error, result_json, submitted_at, completed_at, duration_ms
		 FROM task_history WHERE task_id = ?`, taskID)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		rec         Record
		success     int
		errText     sql.NullString
		resultJSON  sql.NullString
		submittedAt string
		completedAt string
		durationMS  int64
	)
	if err := s.Scan(&rec.TaskID, &rec.Operation, &rec.Mode, &rec.Priority,
		&success, &errText, &resultJSON, &submittedAt, &completedAt, &durationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning task record: %w", err)
	}

	rec.Success = success != 0
	rec.Error = errText.String
	rec.DurationSeconds = float64(durationMS) / 1000

	if resultJSON.Valid && resultJSON.String != "" {
		if err := json.Unmarshal([]byte(resultJSON.String), &rec.Result); err != nil {
			return nil, fmt.Errorf("unmarshalling task result: %w", err)
		}
	}

	var err error
	if rec.SubmittedAt, err = time.Parse(time.RFC3339, submittedAt); err != nil {
		return nil, fmt.Errorf("parsing submitted_at: %w", err)
	}
	if rec.CompletedAt, err = time.Parse(time.RFC3339, completedAt); err != nil {
		return nil, fmt.Errorf("parsing completed_at: %w", err)
	}
	return &rec, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
