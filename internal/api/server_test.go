package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/veldt-labs/stagehand/internal/engine"
	"github.com/veldt-labs/stagehand/internal/history"
	"github.com/veldt-labs/stagehand/internal/infrastructure/config"
	"github.com/veldt-labs/stagehand/internal/infrastructure/logging"
	"github.com/veldt-labs/stagehand/internal/progress"
	"github.com/veldt-labs/stagehand/internal/taskqueue"
)

// stubConnector answers every operation with an inline success.
type stubConnector struct{}

func (stubConnector) Execute(_ context.Context, operation string, _ map[string]any) (*engine.Ack, error) {
	return &engine.Ack{Completed: true, Success: true, Result: map[string]any{"operation": operation}}, nil
}

func (stubConnector) AwaitCompletion(_ context.Context, jobID string) (*engine.Result, error) {
	return &engine.Result{JobID: jobID, Success: true}, nil
}

func (stubConnector) SetOnEvent(func(engine.Event)) {}

func (stubConnector) IsConnected() bool { return true }

func (stubConnector) Stats() engine.Stats { return engine.Stats{Connected: true} }

func (stubConnector) HealthCheck(context.Context) error { return nil }

func (stubConnector) Close() error { return nil }

// memHistory is an in-memory history.Repository.
type memHistory struct {
	mu      sync.Mutex
	records []history.Record
}

func (m *memHistory) Create(_ context.Context, rec *history.Record) error {
	m.mu.Lock()
	m.records = append(m.records, *rec)
	m.mu.Unlock()
	return nil
}

func (m *memHistory) List(_ context.Context, filter history.Filter) (*history.ListResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tasks := []history.Record{}
	for i := len(m.records) - 1; i >= 0; i-- {
		rec := m.records[i]
		if filter.Operation != "" && rec.Operation != filter.Operation {
			continue
		}
		tasks = append(tasks, rec)
	}
	return &history.ListResult{Tasks: tasks, Total: len(tasks)}, nil
}

func (m *memHistory) Get(_ context.Context, taskID uint32) (*history.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.records {
		if rec.TaskID == taskID {
			return &rec, nil
		}
	}
	return nil, history.ErrNotFound
}

type testServer struct {
	server  *Server
	handler http.Handler
	queue   *taskqueue.Queue
	bus     *progress.Bus
	history *memHistory
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := logging.New(config.LoggingConfig{Level: "error", Format: "text"}, "test")
	queue := taskqueue.NewQueue()
	bus := progress.NewBus(progress.Config{HeartbeatInterval: -1})
	hist := &memHistory{}

	worker := taskqueue.NewWorker(taskqueue.WorkerConfig{
		Queue:  queue,
		Bus:    bus,
		Logger: logger,
		Connect: func(context.Context) (engine.Connector, error) {
			return stubConnector{}, nil
		},
		OnCompletion: func(env *taskqueue.Envelope, res taskqueue.Result) {
			//nolint:errcheck // In-memory store cannot fail
			hist.Create(context.Background(), history.NewRecord(env, res))
		},
	})
	worker.Start()

	server, err := New(Deps{
		Config:  config.APIConfig{Host: "127.0.0.1", Port: 0},
		WS:      config.WebSocketConfig{MaxMessageSize: 4096, PingInterval: 30, PongTimeout: 10},
		Logger:  logger,
		Queue:   queue,
		Worker:  worker,
		Bus:     bus,
		History: hist,
		Version: "test",
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	t.Cleanup(func() {
		worker.Stop()
		bus.Close()
	})

	return &testServer{
		server:  server,
		handler: server.buildRouter(),
		queue:   queue,
		bus:     bus,
		history: hist,
	}
}

func (ts *testServer) request(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v, want status ok version test", body)
	}
}

func TestSubmitSynchronousTask(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Operation: "status"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	var res taskqueue.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if !res.Success || res.TaskID == 0 {
		t.Errorf("result = %+v, want success with task id", res)
	}
	if res.Result["operation"] != "status" {
		t.Errorf("result payload = %v, want operation echoed", res.Result)
	}
}

func TestSubmitAsynchronousTask(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{
		Operation:  "long_job",
		Parameters: map[string]any{"count": 3},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202; body %s", rec.Code, rec.Body.String())
	}

	var res SubmitTaskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if res.TaskID == 0 || res.Mode != "asynchronous" {
		t.Errorf("response = %+v, want asynchronous task id", res)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	ts := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty operation", `{"operation": ""}`},
		{"missing operation", `{}`},
		{"malformed json", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/tasks", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			ts.handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}
}

func TestSubmitAfterShutdown(t *testing.T) {
	ts := newTestServer(t)
	ts.queue.Close()

	rec := ts.request(t, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Operation: "status"})
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestListAndGetTasks(t *testing.T) {
	ts := newTestServer(t)

	// Run a task to completion so history has a record.
	rec := ts.request(t, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Operation: "status"})
	if rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d", rec.Code)
	}
	var res taskqueue.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}

	// The completion hook runs after the reply resolves; allow it to land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		if listRec := ts.request(t, http.MethodGet, "/api/v1/tasks", nil); listRec.Code == http.StatusOK {
			var list history.ListResult
			if err := json.Unmarshal(listRec.Body.Bytes(), &list); err != nil {
				t.Fatal(err)
			}
			if list.Total >= 1 {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("task never appeared in history")
		}
		time.Sleep(5 * time.Millisecond)
	}

	getRec := ts.request(t, http.MethodGet, fmt.Sprintf("/api/v1/tasks/%d", res.TaskID), nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("get status = %d, want 200", getRec.Code)
	}
	var record history.Record
	if err := json.Unmarshal(getRec.Body.Bytes(), &record); err != nil {
		t.Fatal(err)
	}
	if record.TaskID != res.TaskID || record.Operation != "status" {
		t.Errorf("record = %+v, want task %d status", record, res.TaskID)
	}
}

func TestGetTaskErrors(t *testing.T) {
	ts := newTestServer(t)

	if rec := ts.request(t, http.MethodGet, "/api/v1/tasks/999999", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown task status = %d, want 404", rec.Code)
	}
	if rec := ts.request(t, http.MethodGet, "/api/v1/tasks/zero", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("malformed id status = %d, want 400", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)

	// Execute one task so worker counters are non-zero.
	if rec := ts.request(t, http.MethodPost, "/api/v1/tasks", SubmitTaskRequest{Operation: "status"}); rec.Code != http.StatusOK {
		t.Fatalf("submit status = %d", rec.Code)
	}

	rec := ts.request(t, http.MethodGet, "/api/v1/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var metrics SystemMetrics
	if err := json.Unmarshal(rec.Body.Bytes(), &metrics); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if metrics.Worker.TasksExecuted != 1 {
		t.Errorf("worker tasks_executed = %d, want 1", metrics.Worker.TasksExecuted)
	}
	if metrics.Engine == nil || !metrics.Engine.Connected {
		t.Error("engine metrics missing after session init")
	}
	if metrics.Runtime.Goroutines == 0 {
		t.Error("runtime metrics missing")
	}
}

func TestRequestIDHeader(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/health", nil)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "caller-supplied")
	resp := httptest.NewRecorder()
	ts.handler.ServeHTTP(resp, req)
	if got := resp.Header().Get("X-Request-ID"); got != "caller-supplied" {
		t.Errorf("X-Request-ID = %q, want caller-supplied", got)
	}
}
