package workflow

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"genflow/services/engine"
)

func TestHandleGetExecution(t *testing.T) {
	e := newMockEngine()
	e.executions["exec-1"] = engine.Execution{ID: "exec-1", WorkflowID: wfID.String(), Status: engine.StatusRunning, Progress: 50, CurrentNodeID: "g"}

	rec := serve(t, &mockGraph{}, e, http.MethodGet, "/api/v1/executions/exec-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	var got engine.Execution
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	if got.Progress != 50 || got.CurrentNodeID != "g" || got.Status != engine.StatusRunning {
		t.Errorf("unexpected execution: %+v", got)
	}

	rec = serve(t, &mockGraph{}, e, http.MethodGet, "/api/v1/executions/missing", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandleListExecutionsAndQueue(t *testing.T) {
	e := newMockEngine()
	e.executions["a"] = engine.Execution{ID: "a", Status: engine.StatusQueued}
	e.queue = []engine.QueueEntry{{ID: "a", WorkflowID: wfID.String(), EstimatedCost: 0.5, EstimatedDurationMs: 1200}}

	rec := serve(t, &mockGraph{}, e, http.MethodGet, "/api/v1/executions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var list struct {
		Executions []engine.Execution `json:"executions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Executions) != 1 || list.Executions[0].ID != "a" {
		t.Errorf("unexpected executions: %+v", list.Executions)
	}

	rec = serve(t, &mockGraph{}, e, http.MethodGet, "/api/v1/queue", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var queue struct {
		Queue []engine.QueueEntry `json:"queue"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &queue); err != nil {
		t.Fatal(err)
	}
	if len(queue.Queue) != 1 || queue.Queue[0].EstimatedDurationMs != 1200 {
		t.Errorf("unexpected queue: %+v", queue.Queue)
	}
}

func TestHandleCancelExecution(t *testing.T) {
	tests := []struct {
		name       string
		id         string
		cancelErr  error
		wantStatus int
		wantCode   string
	}{
		{name: "cancelled", id: "exec-1", wantStatus: http.StatusOK},
		{name: "not found", id: "missing", wantStatus: http.StatusNotFound, wantCode: "NOT_FOUND"},
		{name: "already finished", id: "exec-1", cancelErr: engine.ErrNotCancellable, wantStatus: http.StatusConflict, wantCode: "CONFLICT"},
		{name: "unexpected error", id: "exec-1", cancelErr: errors.New("boom"), wantStatus: http.StatusInternalServerError, wantCode: "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newMockEngine()
			e.executions["exec-1"] = engine.Execution{ID: "exec-1", Status: engine.StatusRunning}
			e.cancelErr = tt.cancelErr

			rec := serve(t, &mockGraph{}, e, http.MethodDelete, "/api/v1/executions/"+tt.id, "")
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d (body: %s)", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.wantCode != "" {
				if got := errorCode(t, rec.Body.Bytes()); got != tt.wantCode {
					t.Errorf("expected code %q, got %q", tt.wantCode, got)
				}
				return
			}
			var got engine.Execution
			if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
				t.Fatal(err)
			}
			if got.Status != engine.StatusFailed || got.Error != "cancelled" {
				t.Errorf("unexpected execution: %+v", got)
			}
		})
	}
}
