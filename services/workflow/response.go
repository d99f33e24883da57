package workflow

import (
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
)

// writeJSON marshals v and writes it with status. A marshal failure turns
// into a 500.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to marshal response", "path", r.URL.Path, "requestId", reqID(r), "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(status)
	if _, err := w.Write(payload); err != nil {
		slog.Error("failed to write response", "path", r.URL.Path, "requestId", reqID(r), "error", err)
	}
}

// writeErrorJSON writes a structured JSON error response with a machine-readable
// code and a human-readable message. The code allows clients to programmatically
// distinguish between error types (e.g. retry on INTERNAL_ERROR, don't retry on NOT_FOUND).
func writeErrorJSON(w http.ResponseWriter, errCode, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": errCode, "message": message})
}

// reqID extracts the request ID from context (set by requestIDMiddleware).
func reqID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
