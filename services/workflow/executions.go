package workflow

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"genflow/services/engine"
)

func (s *Service) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"executions": s.engine.Executions()})
}

func (s *Service) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"queue": s.engine.Queue()})
}

func (s *Service) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	ex, err := s.engine.Execution(id)
	if err != nil {
		writeEngineError(w, r, id, err)
		return
	}
	writeJSON(w, r, http.StatusOK, ex)
}

// HandleCancelExecution cancels a queued or running execution. A node that
// is already calling a provider finishes; the run stops after it.
func (s *Service) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.engine.Cancel(id); err != nil {
		writeEngineError(w, r, id, err)
		return
	}
	ex, err := s.engine.Execution(id)
	if err != nil {
		writeEngineError(w, r, id, err)
		return
	}
	slog.Info("execution cancelled", "executionId", id, "requestId", reqID(r))
	writeJSON(w, r, http.StatusOK, ex)
}

func writeEngineError(w http.ResponseWriter, r *http.Request, id string, err error) {
	rid := reqID(r)
	switch {
	case errors.Is(err, engine.ErrExecutionNotFound):
		slog.Warn("execution not found", "executionId", id, "requestId", rid)
		writeErrorJSON(w, "NOT_FOUND", "execution not found", http.StatusNotFound)
	case errors.Is(err, engine.ErrNotCancellable):
		slog.Warn("execution not cancellable", "executionId", id, "requestId", rid)
		writeErrorJSON(w, "CONFLICT", "execution already finished", http.StatusConflict)
	default:
		slog.Error("engine failure", "executionId", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	}
}
