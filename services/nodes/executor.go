package nodes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"genflow/services/graph"
	"genflow/services/storage"
)

// GraphStore is the mutation API the executor writes results through.
type GraphStore interface {
	Node(ctx context.Context, workflowID, nodeID string) (storage.Node, error)
	UpdateNodeStatus(ctx context.Context, workflowID, nodeID string, status storage.NodeStatus) error
	UpdateNodeResult(ctx context.Context, workflowID, nodeID string, r storage.NodeResult) error
	UpdateNodeConfig(ctx context.Context, workflowID, nodeID string, partial map[string]any) error
}

// Snapshot is the per-run scratch view of the graph. Results written during
// the run land here immediately so later nodes can read them before the
// store's own persistence settles.
type Snapshot struct {
	WorkflowID  string
	ExecutionID string
	Nodes       []storage.Node
	Edges       []storage.Edge
}

func (s *Snapshot) index(nodeID string) int {
	for i := range s.Nodes {
		if s.Nodes[i].ID == nodeID {
			return i
		}
	}
	return -1
}

// Executor runs single nodes and writes their outcome back to the store.
type Executor struct {
	store  GraphStore
	deps   Deps
	logger *slog.Logger
	now    func() time.Time
}

func NewExecutor(store GraphStore, deps Deps, logger *slog.Logger) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("executor: graph store cannot be nil")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("executor: provider client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:  store,
		deps:   deps,
		logger: logger.With("component", "node-executor"),
		now:    time.Now,
	}, nil
}

// Execute runs the node at position idx of snap. The node moves idle ->
// running -> complete|error. Handler errors are returned; store write
// failures are logged and never change the outcome.
func (e *Executor) Execute(ctx context.Context, snap *Snapshot, idx int) (*storage.NodeResult, error) {
	node := snap.Nodes[idx]
	logger := e.logger.With("workflowId", snap.WorkflowID, "executionId", snap.ExecutionID, "nodeId", node.ID, "kind", node.Kind)

	// Config may have been edited since the run was scheduled.
	if latest, err := e.store.Node(ctx, snap.WorkflowID, node.ID); err != nil {
		logger.Warn("could not re-read node config, using scheduled copy", "error", err)
	} else {
		node.Kind = latest.Kind
		node.Config = latest.Config
		snap.Nodes[idx].Kind = latest.Kind
		snap.Nodes[idx].Config = latest.Config
	}

	if err := e.store.UpdateNodeStatus(ctx, snap.WorkflowID, node.ID, storage.StatusRunning); err != nil {
		logger.Warn("failed to mark node running", "error", err)
	}

	in := &Input{
		ExecutionID: snap.ExecutionID,
		WorkflowID:  snap.WorkflowID,
		Node:        node,
		Nodes:       snap.Nodes,
		Edges:       snap.Edges,
		Now:         e.now(),
		inline: func(ctx context.Context, r *storage.NodeResult) (string, bool) {
			return e.inline(ctx, logger, r)
		},
		hint: func(ctx context.Context, hasImage bool) {
			err := e.store.UpdateNodeConfig(ctx, snap.WorkflowID, node.ID, map[string]any{"hasImageInput": hasImage})
			if err != nil {
				logger.Debug("failed to write image input hint", "error", err)
			}
		},
	}

	start := time.Now()
	result, err := New(node.Kind, e.deps).Execute(ctx, in)
	elapsed := time.Since(start)

	if err != nil {
		logger.Warn("node failed", "durationMs", elapsed.Milliseconds(), "error", err)
		if werr := e.store.UpdateNodeStatus(ctx, snap.WorkflowID, node.ID, storage.StatusError); werr != nil {
			logger.Error("failed to persist node error status", "error", werr, "nodeError", err)
		}
		snap.Nodes[idx].Status = storage.StatusError
		return nil, err
	}

	if result != nil {
		if result.Metadata.Timestamp.IsZero() {
			result.Metadata.Timestamp = in.Now
		}
		result.Metadata.ExecutionID = snap.ExecutionID
		if result.Metadata.InputsUsed == nil {
			result.Metadata.InputsUsed = map[string]any{}
		}
		stored := graph.AppendResult(&snap.Nodes[idx], *result)
		result = &stored
		if werr := e.store.UpdateNodeResult(ctx, snap.WorkflowID, node.ID, stored); werr != nil {
			logger.Error("failed to persist node result", "error", werr, "resultId", stored.ID)
		}
	}

	if werr := e.store.UpdateNodeStatus(ctx, snap.WorkflowID, node.ID, storage.StatusComplete); werr != nil {
		logger.Error("failed to persist node complete status", "error", werr)
	}
	snap.Nodes[idx].Status = storage.StatusComplete

	logger.Debug("node completed", "durationMs", elapsed.Milliseconds())
	return result, nil
}

// inline turns an upstream image into a data URL for the provider.
func (e *Executor) inline(ctx context.Context, logger *slog.Logger, r *storage.NodeResult) (string, bool) {
	if strings.HasPrefix(r.Data, "data:") {
		return r.Data, true
	}
	if e.deps.Assets == nil {
		return r.Data, r.Data != ""
	}
	ref := r.AssetRef
	if ref == "" {
		ref = r.Data
	}
	asset, err := e.deps.Assets.Fetch(ctx, ref)
	if err != nil {
		logger.Warn("could not resolve image input, continuing without it", "ref", ref, "error", err)
		return "", false
	}
	return asset.DataURL(), true
}
