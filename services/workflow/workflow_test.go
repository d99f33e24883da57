package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5"

	"genflow/services/engine"
	"genflow/services/graph"
	"genflow/services/storage"
)

// mockGraph implements GraphStore for testing handlers without the
// coordinator or a database.
type mockGraph struct {
	mu        sync.Mutex
	workflow  *storage.Workflow
	getErr    error
	putErr    error
	deleteErr error
	saved     *storage.Workflow
	deleted   []string
}

func (m *mockGraph) GetWorkflow(_ context.Context, _ string) (*storage.Workflow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.saved != nil {
		return m.saved.Clone(), nil
	}
	if m.workflow == nil {
		return nil, pgx.ErrNoRows
	}
	return m.workflow.Clone(), nil
}

func (m *mockGraph) PutWorkflow(_ context.Context, wf *storage.Workflow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return m.putErr
	}
	m.saved = wf.Clone()
	return nil
}

func (m *mockGraph) DeleteHistoryEntry(_ context.Context, workflowID, nodeID, resultID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	m.deleted = append(m.deleted, workflowID+"/"+nodeID+"/"+resultID)
	return nil
}

// mockEngine records submissions and serves canned executions.
type mockEngine struct {
	mu         sync.Mutex
	submitted  [][]storage.Node
	submitErr  error
	executions map[string]engine.Execution
	queue      []engine.QueueEntry
	cancelErr  error
}

func newMockEngine() *mockEngine {
	return &mockEngine{executions: make(map[string]engine.Execution)}
}

func (m *mockEngine) Submit(workflowID string, nodes []storage.Node) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.submitErr != nil {
		return "", m.submitErr
	}
	if len(nodes) == 0 {
		return "", engine.ErrNoNodes
	}
	m.submitted = append(m.submitted, nodes)
	id := fmt.Sprintf("exec-%d", len(m.submitted))
	m.executions[id] = engine.Execution{ID: id, WorkflowID: workflowID, Status: engine.StatusQueued}
	return id, nil
}

func (m *mockEngine) Execution(id string) (engine.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ex, ok := m.executions[id]
	if !ok {
		return engine.Execution{}, engine.ErrExecutionNotFound
	}
	return ex, nil
}

func (m *mockEngine) Executions() []engine.Execution {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]engine.Execution, 0, len(m.executions))
	for _, ex := range m.executions {
		out = append(out, ex)
	}
	return out
}

func (m *mockEngine) Queue() []engine.QueueEntry {
	return m.queue
}

func (m *mockEngine) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancelErr != nil {
		return m.cancelErr
	}
	ex, ok := m.executions[id]
	if !ok {
		return engine.ErrExecutionNotFound
	}
	ex.Status = engine.StatusFailed
	ex.Error = "cancelled"
	m.executions[id] = ex
	return nil
}

// newTestRouter wires up the service with mux routing so handler tests
// can exercise the full request path including URL parameter extraction.
func newTestRouter(svc *Service) *mux.Router {
	router := mux.NewRouter()
	api := router.PathPrefix("/api/v1").Subrouter()
	svc.LoadRoutes(api)
	return router
}

func serve(t *testing.T, g *mockGraph, e *mockEngine, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	svc, err := NewService(g, e)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, url, nil)
	} else {
		req = httptest.NewRequest(method, url, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)
	return rec
}

var wfID = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

func sampleWorkflow() *storage.Workflow {
	return &storage.Workflow{
		ID:   wfID.String(),
		Name: "Cat pictures",
		Nodes: []storage.Node{
			{ID: "p", Kind: storage.KindPrompt, Status: storage.StatusIdle, Config: map[string]any{"prompt": "a cat"}},
			{ID: "g", Kind: storage.KindImageGenerate, Status: storage.StatusIdle, Config: map[string]any{"model": "m1"}},
		},
		Edges: []storage.Edge{{ID: "e1", Source: "p", Target: "g"}},
	}
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var resp struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("failed to unmarshal error body %q: %v", body, err)
	}
	return resp.Code
}

func TestNewService_NilDeps(t *testing.T) {
	if _, err := NewService(nil, newMockEngine()); err == nil {
		t.Error("expected error for nil graph store, got nil")
	}
	if _, err := NewService(&mockGraph{}, nil); err == nil {
		t.Error("expected error for nil engine, got nil")
	}
}

func TestRequestID(t *testing.T) {
	g := &mockGraph{workflow: sampleWorkflow()}
	rec := serve(t, g, newMockEngine(), http.MethodGet, "/api/v1/workflows/"+wfID.String(), "")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a generated request id")
	}

	svc, _ := NewService(g, newMockEngine())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/workflows/"+wfID.String(), nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	newTestRouter(svc).ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Errorf("request id = %q, want caller's", got)
	}
}

func TestHandleGetWorkflow(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		graph      *mockGraph
		wantStatus int
		wantCode   string
		checkBody  func(t *testing.T, body []byte)
	}{
		{
			name:       "invalid UUID returns 400",
			url:        "/api/v1/workflows/not-a-uuid",
			graph:      &mockGraph{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ID",
		},
		{
			name:       "workflow not found returns 404",
			url:        "/api/v1/workflows/" + uuid.New().String(),
			graph:      &mockGraph{getErr: fmt.Errorf("load workflow: %w", pgx.ErrNoRows)},
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "storage error returns 500",
			url:        "/api/v1/workflows/" + uuid.New().String(),
			graph:      &mockGraph{getErr: errors.New("connection refused")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
		{
			name:       "valid workflow returns 200 with canvas shape",
			url:        "/api/v1/workflows/" + wfID.String(),
			graph:      &mockGraph{workflow: sampleWorkflow()},
			wantStatus: http.StatusOK,
			checkBody: func(t *testing.T, body []byte) {
				var result map[string]json.RawMessage
				if err := json.Unmarshal(body, &result); err != nil {
					t.Fatalf("failed to unmarshal response: %v", err)
				}
				for _, required := range []string{"id", "nodes", "edges"} {
					if _, ok := result[required]; !ok {
						t.Errorf("response missing required field %q", required)
					}
				}
				for _, excluded := range []string{"name", "createdAt", "modifiedAt"} {
					if _, ok := result[excluded]; ok {
						t.Errorf("response should not contain internal field %q", excluded)
					}
				}
				var nodes []map[string]any
				if err := json.Unmarshal(result["nodes"], &nodes); err != nil {
					t.Fatalf("failed to unmarshal nodes: %v", err)
				}
				if len(nodes) != 2 || nodes[1]["type"] != "image-generate" {
					t.Errorf("unexpected nodes: %v", nodes)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.graph, newMockEngine(), http.MethodGet, tt.url, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if got := errorCode(t, rec.Body.Bytes()); got != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, got)
				}
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if tt.checkBody != nil {
				tt.checkBody(t, rec.Body.Bytes())
			}
		})
	}
}

func TestHandlePutWorkflow(t *testing.T) {
	url := "/api/v1/workflows/" + wfID.String()

	tests := []struct {
		name       string
		body       string
		graph      *mockGraph
		wantStatus int
		wantCode   string
	}{
		{
			name:       "malformed body returns 400",
			body:       `{"nodes": [`,
			graph:      &mockGraph{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_BODY",
		},
		{
			name:       "duplicate node ids return 400",
			body:       `{"nodes": [{"id": "a", "type": "prompt"}, {"id": "a", "type": "prompt"}]}`,
			graph:      &mockGraph{},
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_BODY",
		},
		{
			name:       "save failure returns 500",
			body:       `{"name": "x", "nodes": [], "edges": []}`,
			graph:      &mockGraph{putErr: errors.New("db down")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
		{
			name:       "valid graph is saved",
			body:       `{"name": "x", "nodes": [{"id": "a", "type": "prompt", "position": {"x": 1, "y": 2}, "config": {"prompt": "hi"}}], "edges": []}`,
			graph:      &mockGraph{},
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.graph, newMockEngine(), http.MethodPut, url, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if got := errorCode(t, rec.Body.Bytes()); got != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, got)
				}
				return
			}
			saved := tt.graph.saved
			if saved == nil || saved.ID != wfID.String() || len(saved.Nodes) != 1 {
				t.Fatalf("unexpected saved workflow: %+v", saved)
			}
			if saved.Nodes[0].Kind != storage.KindPrompt || saved.Nodes[0].Config["prompt"] != "hi" {
				t.Errorf("node not decoded: %+v", saved.Nodes[0])
			}
		})
	}
}

func TestHandleExecuteWorkflow(t *testing.T) {
	url := "/api/v1/workflows/" + wfID.String() + "/execute"

	tests := []struct {
		name       string
		url        string
		body       string
		graph      *mockGraph
		engine     *mockEngine
		wantStatus int
		wantCode   string
		wantNodes  []string
	}{
		{
			name:       "invalid UUID returns 400",
			url:        "/api/v1/workflows/bad-id/execute",
			graph:      &mockGraph{},
			engine:     newMockEngine(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_ID",
		},
		{
			name:       "malformed body returns 400",
			url:        url,
			body:       `{"nodeIds": `,
			graph:      &mockGraph{workflow: sampleWorkflow()},
			engine:     newMockEngine(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_BODY",
		},
		{
			name:       "workflow not found returns 404",
			url:        url,
			graph:      &mockGraph{},
			engine:     newMockEngine(),
			wantStatus: http.StatusNotFound,
			wantCode:   "NOT_FOUND",
		},
		{
			name:       "unknown node id returns 400",
			url:        url,
			body:       `{"nodeIds": ["nope"]}`,
			graph:      &mockGraph{workflow: sampleWorkflow()},
			engine:     newMockEngine(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_BODY",
		},
		{
			name:       "submit failure returns 500",
			url:        url,
			graph:      &mockGraph{workflow: sampleWorkflow()},
			engine:     &mockEngine{submitErr: errors.New("boom"), executions: map[string]engine.Execution{}},
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
		{
			name:       "workflow without nodes returns 400",
			url:        url,
			graph:      &mockGraph{workflow: &storage.Workflow{ID: wfID.String(), Name: "empty"}},
			engine:     newMockEngine(),
			wantStatus: http.StatusBadRequest,
			wantCode:   "EMPTY_WORKFLOW",
		},
		{
			name:       "empty body runs every node",
			url:        url,
			graph:      &mockGraph{workflow: sampleWorkflow()},
			engine:     newMockEngine(),
			wantStatus: http.StatusAccepted,
			wantNodes:  []string{"p", "g"},
		},
		{
			name:       "node subset",
			url:        url,
			body:       `{"nodeIds": ["g"]}`,
			graph:      &mockGraph{workflow: sampleWorkflow()},
			engine:     newMockEngine(),
			wantStatus: http.StatusAccepted,
			wantNodes:  []string{"g"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.graph, tt.engine, http.MethodPost, tt.url, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if got := errorCode(t, rec.Body.Bytes()); got != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, got)
				}
				return
			}

			var resp struct {
				ExecutionID string `json:"executionId"`
				Status      string `json:"status"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if resp.ExecutionID != "exec-1" || resp.Status != "queued" {
				t.Errorf("unexpected response: %+v", resp)
			}
			if len(tt.engine.submitted) != 1 {
				t.Fatalf("expected one submission, got %d", len(tt.engine.submitted))
			}
			var got []string
			for _, n := range tt.engine.submitted[0] {
				got = append(got, n.ID)
			}
			if strings.Join(got, ",") != strings.Join(tt.wantNodes, ",") {
				t.Errorf("submitted nodes = %v, want %v", got, tt.wantNodes)
			}
		})
	}
}

func TestHandleDeleteHistoryEntry(t *testing.T) {
	base := "/api/v1/workflows/" + wfID.String() + "/nodes/g/history/r-1"

	tests := []struct {
		name       string
		url        string
		graph      *mockGraph
		wantStatus int
	}{
		{name: "deleted", url: base, graph: &mockGraph{}, wantStatus: http.StatusNoContent},
		{name: "invalid UUID", url: "/api/v1/workflows/x/nodes/g/history/r-1", graph: &mockGraph{}, wantStatus: http.StatusBadRequest},
		{name: "unknown node", url: base, graph: &mockGraph{deleteErr: fmt.Errorf("%w: g", graph.ErrNodeNotFound)}, wantStatus: http.StatusNotFound},
		{name: "unknown workflow", url: base, graph: &mockGraph{deleteErr: pgx.ErrNoRows}, wantStatus: http.StatusNotFound},
		{name: "store failure", url: base, graph: &mockGraph{deleteErr: errors.New("db down")}, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(t, tt.graph, newMockEngine(), http.MethodDelete, tt.url, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected status %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantStatus == http.StatusNoContent {
				want := wfID.String() + "/g/r-1"
				if len(tt.graph.deleted) != 1 || tt.graph.deleted[0] != want {
					t.Errorf("deleted = %v, want [%s]", tt.graph.deleted, want)
				}
			}
		})
	}
}
