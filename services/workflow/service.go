package workflow

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"genflow/services/engine"
	"genflow/services/storage"
)

// GraphStore is the part of the graph store the HTTP layer uses.
type GraphStore interface {
	GetWorkflow(ctx context.Context, id string) (*storage.Workflow, error)
	PutWorkflow(ctx context.Context, wf *storage.Workflow) error
	DeleteHistoryEntry(ctx context.Context, workflowID, nodeID, resultID string) error
}

// Engine is the execution queue as seen by the HTTP layer.
type Engine interface {
	Submit(workflowID string, nodes []storage.Node) (string, error)
	Execution(id string) (engine.Execution, error)
	Executions() []engine.Execution
	Queue() []engine.QueueEntry
	Cancel(id string) error
}

// Service handles HTTP requests for workflows and their executions.
type Service struct {
	graph  GraphStore
	engine Engine
}

// NewService creates a workflow Service backed by the given graph store and
// execution engine.
func NewService(graph GraphStore, eng Engine) (*Service, error) {
	if graph == nil {
		return nil, fmt.Errorf("service: graph store cannot be nil")
	}
	if eng == nil {
		return nil, fmt.Errorf("service: engine cannot be nil")
	}
	return &Service{graph: graph, engine: eng}, nil
}

type ctxKey int

const requestIDKey ctxKey = iota

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware tags each request with an id, reusing the caller's
// X-Request-ID when present, and echoes it in the response.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// jsonMiddleware sets the Content-Type header to application/json
func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (s *Service) LoadRoutes(parentRouter *mux.Router) {
	parentRouter.Use(requestIDMiddleware, jsonMiddleware)

	router := parentRouter.PathPrefix("/workflows").Subrouter()
	router.StrictSlash(false)
	router.HandleFunc("/{id}", s.HandleGetWorkflow).Methods("GET")
	router.HandleFunc("/{id}", s.HandlePutWorkflow).Methods("PUT")
	router.HandleFunc("/{id}/execute", s.HandleExecuteWorkflow).Methods("POST")
	router.HandleFunc("/{id}/nodes/{nodeId}/history/{resultId}", s.HandleDeleteHistoryEntry).Methods("DELETE")

	execRouter := parentRouter.PathPrefix("/executions").Subrouter()
	execRouter.HandleFunc("", s.HandleListExecutions).Methods("GET")
	execRouter.HandleFunc("/{id}", s.HandleGetExecution).Methods("GET")
	execRouter.HandleFunc("/{id}", s.HandleCancelExecution).Methods("DELETE")

	parentRouter.HandleFunc("/queue", s.HandleListQueue).Methods("GET")
}
