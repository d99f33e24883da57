package storagemock

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5"

	"genflow/services/storage"
)

// StorageMock is an in-memory storage.Storage. Mock funcs override the
// default behaviour, which keeps upserted workflows in a map.
type StorageMock struct {
	GetWorkflowMock    func(ctx context.Context, id string) (*storage.Workflow, error)
	UpsertWorkflowMock func(ctx context.Context, wf *storage.Workflow) error

	mu        sync.Mutex
	workflows map[string]*storage.Workflow
	upserts   int
}

// New returns a mock seeded with the given workflows.
func New(wfs ...*storage.Workflow) *StorageMock {
	m := &StorageMock{workflows: make(map[string]*storage.Workflow)}
	for _, wf := range wfs {
		m.workflows[wf.ID] = wf.Clone()
	}
	return m
}

func (m *StorageMock) GetWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	if m.GetWorkflowMock != nil {
		return m.GetWorkflowMock(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return wf.Clone(), nil
}

func (m *StorageMock) UpsertWorkflow(ctx context.Context, wf *storage.Workflow) error {
	if m.UpsertWorkflowMock != nil {
		return m.UpsertWorkflowMock(ctx, wf)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.workflows == nil {
		m.workflows = make(map[string]*storage.Workflow)
	}
	m.workflows[wf.ID] = wf.Persistable()
	m.upserts++
	return nil
}

// Stored returns a copy of what was last persisted for id.
func (m *StorageMock) Stored(id string) (*storage.Workflow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[id]
	if !ok {
		return nil, false
	}
	return wf.Clone(), true
}

// Upserts counts default-path UpsertWorkflow calls.
func (m *StorageMock) Upserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upserts
}
