package workflow

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"genflow/services/engine"
	"genflow/services/graph"
	"genflow/services/storage"
)

// maxRequestBody limits the size of request bodies to prevent abuse.
// Saved graphs can carry inline images, hence the generous cap.
const maxRequestBody = 16 << 20 // 16MB

// workflowID validates the {id} path variable. On failure the error
// response has already been written.
func workflowID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := mux.Vars(r)["id"]
	wfUUID, err := uuid.Parse(id)
	if err != nil {
		slog.Warn("invalid workflow id", "id", id, "requestId", reqID(r), "error", err)
		writeErrorJSON(w, "INVALID_ID", "invalid workflow id", http.StatusBadRequest)
		return "", false
	}
	return wfUUID.String(), true
}

// writeLoadError maps graph store errors to responses.
func writeLoadError(w http.ResponseWriter, r *http.Request, id string, err error) {
	rid := reqID(r)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		slog.Warn("workflow not found", "id", id, "requestId", rid)
		writeErrorJSON(w, "NOT_FOUND", "workflow not found", http.StatusNotFound)
	case errors.Is(err, graph.ErrNodeNotFound):
		slog.Warn("node not found", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "NOT_FOUND", "node not found", http.StatusNotFound)
	default:
		slog.Error("graph store failure", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
	}
}

// HandleGetWorkflow returns the workflow graph in the shape the canvas
// expects (id, nodes, edges), including live node status and results.
func (s *Service) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	slog.Debug("returning workflow", "id", id, "requestId", reqID(r))

	wf, err := s.graph.GetWorkflow(r.Context(), id)
	if err != nil {
		writeLoadError(w, r, id, err)
		return
	}
	writeJSON(w, r, http.StatusOK, wf.ToFrontend())
}

// HandlePutWorkflow saves the graph sent by the canvas. Node status and
// results are owned by the engine and are not taken from the request for
// nodes the store already knows.
func (s *Service) HandlePutWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id, ok := workflowID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var body struct {
		Name  string         `json:"name"`
		Nodes []storage.Node `json:"nodes"`
		Edges []storage.Edge `json:"edges"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		slog.Warn("failed to decode workflow body", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}
	seen := make(map[string]bool, len(body.Nodes))
	for _, n := range body.Nodes {
		if n.ID == "" || seen[n.ID] {
			slog.Warn("invalid node ids in workflow body", "id", id, "requestId", rid, "nodeId", n.ID)
			writeErrorJSON(w, "INVALID_BODY", "node ids must be unique and non-empty", http.StatusBadRequest)
			return
		}
		seen[n.ID] = true
	}

	wf := &storage.Workflow{ID: id, Name: body.Name, Nodes: body.Nodes, Edges: body.Edges}
	if wf.Nodes == nil {
		wf.Nodes = []storage.Node{}
	}
	if wf.Edges == nil {
		wf.Edges = []storage.Edge{}
	}
	if err := s.graph.PutWorkflow(r.Context(), wf); err != nil {
		slog.Error("failed to save workflow", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	saved, err := s.graph.GetWorkflow(r.Context(), id)
	if err != nil {
		writeLoadError(w, r, id, err)
		return
	}
	slog.Info("workflow saved", "id", id, "requestId", rid, "nodes", len(saved.Nodes), "edges", len(saved.Edges))
	writeJSON(w, r, http.StatusOK, saved.ToFrontend())
}

// HandleExecuteWorkflow queues a run of the workflow and returns at once
// with the execution id. The body may restrict the run to a subset of
// nodes; an empty body runs the whole graph.
func (s *Service) HandleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	rid := reqID(r)
	id, ok := workflowID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	var body struct {
		NodeIDs []string `json:"nodeIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		slog.Warn("failed to decode execute body", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INVALID_BODY", "invalid request body", http.StatusBadRequest)
		return
	}

	wf, err := s.graph.GetWorkflow(r.Context(), id)
	if err != nil {
		writeLoadError(w, r, id, err)
		return
	}

	selected := wf.Nodes
	if len(body.NodeIDs) > 0 {
		selected = make([]storage.Node, 0, len(body.NodeIDs))
		for _, nodeID := range body.NodeIDs {
			i := wf.NodeIndex(nodeID)
			if i < 0 {
				slog.Warn("execute references unknown node", "id", id, "requestId", rid, "nodeId", nodeID)
				writeErrorJSON(w, "INVALID_BODY", "unknown node id "+nodeID, http.StatusBadRequest)
				return
			}
			selected = append(selected, wf.Nodes[i])
		}
	}

	execID, err := s.engine.Submit(id, selected)
	if errors.Is(err, engine.ErrNoNodes) {
		writeErrorJSON(w, "EMPTY_WORKFLOW", "workflow has no nodes to execute", http.StatusBadRequest)
		return
	}
	if err != nil {
		slog.Error("failed to submit execution", "id", id, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}
	ex, err := s.engine.Execution(execID)
	if err != nil {
		slog.Error("submitted execution vanished", "id", id, "executionId", execID, "requestId", rid, "error", err)
		writeErrorJSON(w, "INTERNAL_ERROR", "internal server error", http.StatusInternalServerError)
		return
	}

	slog.Info("execution accepted", "id", id, "executionId", execID, "requestId", rid, "status", ex.Status)
	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"executionId": execID,
		"status":      ex.Status,
	})
}

// HandleDeleteHistoryEntry removes one past result from a node by its id.
// Deleting an id that is not in the history is not an error.
func (s *Service) HandleDeleteHistoryEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := workflowID(w, r)
	if !ok {
		return
	}
	vars := mux.Vars(r)
	nodeID, resultID := vars["nodeId"], vars["resultId"]

	if err := s.graph.DeleteHistoryEntry(r.Context(), id, nodeID, resultID); err != nil {
		writeLoadError(w, r, id, err)
		return
	}
	slog.Debug("history entry deleted", "id", id, "nodeId", nodeID, "resultId", resultID, "requestId", reqID(r))
	w.WriteHeader(http.StatusNoContent)
}
