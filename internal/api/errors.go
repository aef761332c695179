package api

import (
	"encoding/json"
	"net/http"
)

// errorResponse is the body of every non-2xx reply:
//
//	{"error": {"code": "not_found", "message": "no record for task"}}
type errorResponse struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeJSON serialises v with the given status. A nil v sends headers
// only.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Client may have gone away; nothing to do about it
		json.NewEncoder(w).Encode(v)
	}
}

func writeFailure(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: errorDetail{Code: code, Message: message}})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusBadRequest, "bad_request", message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusNotFound, "not_found", message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusInternalServerError, "internal_error", message)
}

func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusServiceUnavailable, "service_unavailable", message)
}
