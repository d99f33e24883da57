// Package graph holds the authoritative node/edge graph of every open
// workflow. All mutations go through Store so that persistence stays
// serialized per workflow by the storage coordinator.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"dario.cat/mergo"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/singleflight"

	"genflow/services/coordinator"
	"genflow/services/storage"
)

var ErrNodeNotFound = errors.New("node not found")

// Store is a load-through cache over storage.Storage.
type Store struct {
	storage storage.Storage
	coord   *coordinator.Coordinator
	logger  *slog.Logger

	mu        sync.RWMutex
	workflows map[string]*storage.Workflow
	loads     singleflight.Group
}

func NewStore(st storage.Storage, coord *coordinator.Coordinator, logger *slog.Logger) (*Store, error) {
	if st == nil {
		return nil, fmt.Errorf("graph store: storage cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if coord == nil {
		coord = coordinator.New(coordinator.DefaultDelay, logger)
	}
	return &Store{
		storage:   st,
		coord:     coord,
		logger:    logger.With("component", "graph-store"),
		workflows: make(map[string]*storage.Workflow),
	}, nil
}

// GetWorkflow returns a copy of the current graph. Errors from the backend
// are wrapped, so a missing workflow matches pgx.ErrNoRows.
func (s *Store) GetWorkflow(ctx context.Context, id string) (*storage.Workflow, error) {
	if err := s.load(ctx, id); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workflows[id].Clone(), nil
}

// Node returns a copy of a single node, used to re-read config right before
// a node executes.
func (s *Store) Node(ctx context.Context, workflowID, nodeID string) (storage.Node, error) {
	if err := s.load(ctx, workflowID); err != nil {
		return storage.Node{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf := s.workflows[workflowID]
	i := wf.NodeIndex(nodeID)
	if i < 0 {
		return storage.Node{}, fmt.Errorf("%w: %s/%s", ErrNodeNotFound, workflowID, nodeID)
	}
	return wf.Nodes[i].Clone(), nil
}

// PutWorkflow replaces a graph with the caller's version. Status and results
// of nodes the store already knows are kept, since only the engine writes
// them.
func (s *Store) PutWorkflow(ctx context.Context, wf *storage.Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("put workflow: missing id")
	}
	next := wf.Clone()

	// A save can arrive before anything warmed the cache; engine-owned
	// fields must come from storage then too.
	if err := s.load(ctx, wf.ID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	s.mu.Lock()
	if cur, ok := s.workflows[wf.ID]; ok {
		for i := range next.Nodes {
			j := cur.NodeIndex(next.Nodes[i].ID)
			if j < 0 {
				continue
			}
			known := cur.Nodes[j].Clone()
			next.Nodes[i].Status = known.Status
			next.Nodes[i].Result = known.Result
			next.Nodes[i].ResultHistory = known.ResultHistory
		}
		next.CreatedAt = cur.CreatedAt
	}
	for i := range next.Nodes {
		if next.Nodes[i].Status == "" {
			next.Nodes[i].Status = storage.StatusIdle
		}
	}
	s.workflows[wf.ID] = next
	s.mu.Unlock()

	return s.persist(ctx, wf.ID)
}

// UpdateNodeStatus sets a node's status. Running is transient and only
// changes memory; every other status is persisted before returning.
func (s *Store) UpdateNodeStatus(ctx context.Context, workflowID, nodeID string, status storage.NodeStatus) error {
	err := s.mutateNode(ctx, workflowID, nodeID, func(n *storage.Node) {
		n.Status = status
	})
	if err != nil {
		return err
	}
	if status == storage.StatusRunning {
		return nil
	}
	return s.persist(ctx, workflowID)
}

// UpdateNodeResult appends r to the node's history and makes it current.
func (s *Store) UpdateNodeResult(ctx context.Context, workflowID, nodeID string, r storage.NodeResult) error {
	err := s.mutateNode(ctx, workflowID, nodeID, func(n *storage.Node) {
		AppendResult(n, r)
	})
	if err != nil {
		return err
	}
	return s.persist(ctx, workflowID)
}

// UpdateNodeConfig merges partial into the node's config, overriding keys
// that are present in partial. Persistence is debounced per node.
func (s *Store) UpdateNodeConfig(ctx context.Context, workflowID, nodeID string, partial map[string]any) error {
	var mergeErr error
	err := s.mutateNode(ctx, workflowID, nodeID, func(n *storage.Node) {
		if n.Config == nil {
			n.Config = make(map[string]any, len(partial))
		}
		mergeErr = mergo.Merge(&n.Config, partial, mergo.WithOverride)
	})
	if err != nil {
		return err
	}
	if mergeErr != nil {
		return fmt.Errorf("merge config of node %q: %w", nodeID, mergeErr)
	}
	s.persistDebounced(workflowID, fmt.Sprintf("config-%s-%s", workflowID, nodeID))
	return nil
}

// DeleteHistoryEntry removes a result by id. Deleting an id that is already
// gone is not an error, since the canvas may issue deletes concurrently.
func (s *Store) DeleteHistoryEntry(ctx context.Context, workflowID, nodeID, resultID string) error {
	removed := false
	err := s.mutateNode(ctx, workflowID, nodeID, func(n *storage.Node) {
		removed = RemoveResult(n, resultID)
	})
	if err != nil {
		return err
	}
	if removed {
		s.persistDebounced(workflowID, fmt.Sprintf("history-%s-%s", workflowID, nodeID))
	}
	return nil
}

// Flush forces pending debounced writes to storage.
func (s *Store) Flush(ctx context.Context) error {
	return s.coord.Flush(ctx)
}

func (s *Store) load(ctx context.Context, id string) error {
	s.mu.RLock()
	_, ok := s.workflows[id]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	_, err, _ := s.loads.Do(id, func() (any, error) {
		wf, err := s.storage.GetWorkflow(ctx, id)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		if _, ok := s.workflows[id]; !ok {
			s.workflows[id] = wf
		}
		s.mu.Unlock()
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("load workflow %q: %w", id, err)
	}
	return nil
}

func (s *Store) mutateNode(ctx context.Context, workflowID, nodeID string, fn func(n *storage.Node)) error {
	if err := s.load(ctx, workflowID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	wf := s.workflows[workflowID]
	i := wf.NodeIndex(nodeID)
	if i < 0 {
		return fmt.Errorf("%w: %s/%s", ErrNodeNotFound, workflowID, nodeID)
	}
	fn(&wf.Nodes[i])
	return nil
}

// writer snapshots the graph when the write actually runs, so a queued
// write always persists the latest state.
func (s *Store) writer(workflowID string) coordinator.WriteFunc {
	return func(ctx context.Context) error {
		s.mu.RLock()
		wf, ok := s.workflows[workflowID]
		var snap *storage.Workflow
		if ok {
			snap = wf.Persistable()
		}
		s.mu.RUnlock()
		if !ok {
			return nil
		}
		return s.storage.UpsertWorkflow(ctx, snap)
	}
}

func (s *Store) persist(ctx context.Context, workflowID string) error {
	if err := s.coord.Serialize(ctx, workflowID, s.writer(workflowID)); err != nil {
		return fmt.Errorf("persist workflow %q: %w", workflowID, err)
	}
	return nil
}

func (s *Store) persistDebounced(workflowID, key string) {
	s.coord.Debounce(workflowID, key, s.writer(workflowID))
}
