package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/veldt-labs/stagehand/internal/history"
	"github.com/veldt-labs/stagehand/internal/taskqueue"
)

// SubmitTaskRequest is the body of POST /tasks.
type SubmitTaskRequest struct {
	Operation  string         `json:"operation"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// SubmitTaskResponse is returned for asynchronous-mode submissions.
type SubmitTaskResponse struct {
	TaskID    uint32 `json:"task_id"`
	Operation string `json:"operation"`
	Mode      string `json:"mode"`
}

// handleSubmitTask accepts a task for execution.
//
// Synchronous-mode operations block until the worker resolves the reply
// channel, bounded by the request context; the caller receives the Task
// Result. Asynchronous-mode operations return 202 immediately with the
// task id.
func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Operation == "" {
		writeBadRequest(w, "operation is required")
		return
	}

	env, reply := taskqueue.NewEnvelope(req.Operation, req.Parameters)
	if err := s.queue.Submit(env); err != nil {
		// Queue only closes during shutdown.
		writeServiceUnavailable(w, "shutting down, not accepting tasks")
		return
	}

	s.logger.Debug("task submitted",
		"task_id", env.ID,
		"operation", env.Operation,
		"mode", env.Mode.String(),
		"request_id", middleware.GetReqID(r.Context()),
	)

	if reply == nil {
		writeJSON(w, http.StatusAccepted, SubmitTaskResponse{
			TaskID:    env.ID,
			Operation: env.Operation,
			Mode:      env.Mode.String(),
		})
		return
	}

	res, err := reply.Wait(r.Context())
	switch {
	case errors.Is(err, taskqueue.ErrReplyClosed):
		writeInternalError(w, "task abandoned without a result")
	case err != nil:
		// Caller's request context ended; the operation still runs to
		// completion in the worker. Nothing useful to write.
		s.logger.Debug("synchronous caller gave up",
			"task_id", env.ID, "error", err)
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// handleListTasks returns completed task records, newest first.
// Query parameters: operation, success (true/false), limit, offset.
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := history.Filter{
		Operation: r.URL.Query().Get("operation"),
	}

	if v := r.URL.Query().Get("success"); v != "" {
		success, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "success must be true or false")
			return
		}
		filter.Success = &success
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("task history query failed", "error", err)
		writeInternalError(w, "failed to query task history")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleGetTask returns the history record for one task.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := parseTaskID(w, r)
	if !ok {
		return
	}

	rec, err := s.history.Get(r.Context(), taskID)
	if errors.Is(err, history.ErrNotFound) {
		writeNotFound(w, "no record for task")
		return
	}
	if err != nil {
		s.logger.Error("task history query failed", "task_id", taskID, "error", err)
		writeInternalError(w, "failed to query task history")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// parseTaskID extracts the {id} route parameter. Writes a 400 and
// returns false on malformed input.
func parseTaskID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		writeBadRequest(w, "task id must be a positive integer")
		return 0, false
	}
	return uint32(id), true
}
