package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"genflow/services/nodes"
	"genflow/services/storage"
)

// DefaultMaxConcurrency bounds how many executions run at once.
const DefaultMaxConcurrency = 5

const cancelledError = "cancelled"

var (
	ErrExecutionNotFound = errors.New("execution not found")
	ErrNotCancellable    = errors.New("execution already finished")
	ErrNoNodes           = errors.New("no nodes to execute")
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Execution is one run of a workflow's nodes.
type Execution struct {
	ID            string     `json:"id"`
	WorkflowID    string     `json:"workflowId"`
	Status        Status     `json:"status"`
	StartTime     *time.Time `json:"startTime,omitempty"`
	EndTime       *time.Time `json:"endTime,omitempty"`
	CurrentNodeID string     `json:"currentNodeId,omitempty"`
	Progress      int        `json:"progress"`
	EstimatedCost float64    `json:"estimatedCost"`
	ActualCost    float64    `json:"actualCost"`
	Error         string     `json:"error,omitempty"`
}

func (ex *Execution) finished() bool {
	return ex.Status == StatusCompleted || ex.Status == StatusFailed
}

// QueueEntry is a submitted execution waiting for a free slot.
type QueueEntry struct {
	ID                  string    `json:"id"`
	WorkflowID          string    `json:"workflowId"`
	Priority            int       `json:"priority"`
	EstimatedDurationMs int64     `json:"estimatedDurationMs"`
	EstimatedCost       float64   `json:"estimatedCost"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Store is the read side of the graph store the engine needs.
type Store interface {
	GetWorkflow(ctx context.Context, id string) (*storage.Workflow, error)
}

// Runner executes a single node of a run snapshot.
type Runner interface {
	Execute(ctx context.Context, snap *nodes.Snapshot, idx int) (*storage.NodeResult, error)
}

type Options struct {
	// MaxConcurrency defaults to DefaultMaxConcurrency when zero.
	MaxConcurrency int
	// Tariffs defaults to DefaultTariffs when nil.
	Tariffs *Tariffs
}

type job struct {
	exec  *Execution
	nodes []storage.Node
}

// Engine queues workflow executions and runs up to MaxConcurrency of them
// concurrently. Nodes inside one execution run sequentially.
type Engine struct {
	store   Store
	runner  Runner
	tariffs Tariffs
	max     int
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.Mutex
	executions map[string]*job
	order      []string
	queue      []QueueEntry
	running    int

	wg sync.WaitGroup
}

func New(store Store, runner Runner, opts Options, logger *slog.Logger) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: store cannot be nil")
	}
	if runner == nil {
		return nil, fmt.Errorf("engine: runner cannot be nil")
	}
	if opts.MaxConcurrency < 0 {
		return nil, fmt.Errorf("engine: max concurrency must be positive, got %d", opts.MaxConcurrency)
	}
	if opts.MaxConcurrency == 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	tariffs := DefaultTariffs
	if opts.Tariffs != nil {
		tariffs = *opts.Tariffs
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:      store,
		runner:     runner,
		tariffs:    tariffs,
		max:        opts.MaxConcurrency,
		logger:     logger.With("component", "engine"),
		now:        time.Now,
		executions: make(map[string]*job),
	}, nil
}

// Submit queues a run of nodes from workflowID and returns its execution id.
// When a slot is free the execution is running by the time Submit returns.
func (e *Engine) Submit(workflowID string, submitted []storage.Node) (string, error) {
	if workflowID == "" {
		return "", fmt.Errorf("workflow id is required")
	}
	if len(submitted) == 0 {
		return "", ErrNoNodes
	}
	cost, duration := e.tariffs.Estimate(submitted)

	cp := make([]storage.Node, len(submitted))
	for i, n := range submitted {
		cp[i] = n.Clone()
	}

	id := uuid.NewString()
	now := e.now()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.executions[id] = &job{
		exec: &Execution{
			ID:            id,
			WorkflowID:    workflowID,
			Status:        StatusQueued,
			EstimatedCost: cost,
		},
		nodes: cp,
	}
	e.order = append(e.order, id)
	e.enqueue(QueueEntry{
		ID:                  id,
		WorkflowID:          workflowID,
		EstimatedDurationMs: duration.Milliseconds(),
		EstimatedCost:       cost,
		CreatedAt:           now,
	})

	e.logger.Info("execution submitted", "executionId", id, "workflowId", workflowID, "nodes", len(cp), "estimatedCost", cost)
	e.promote()
	return id, nil
}

// enqueue inserts entry after every entry of equal or higher priority.
func (e *Engine) enqueue(entry QueueEntry) {
	i := len(e.queue)
	for i > 0 && e.queue[i-1].Priority < entry.Priority {
		i--
	}
	e.queue = append(e.queue, QueueEntry{})
	copy(e.queue[i+1:], e.queue[i:])
	e.queue[i] = entry
}

// promote starts queued executions while slots are free. e.mu must be held.
func (e *Engine) promote() {
	for e.running < e.max && len(e.queue) > 0 {
		entry := e.queue[0]
		e.queue = e.queue[1:]

		j, ok := e.executions[entry.ID]
		if !ok || j.exec.Status != StatusQueued {
			continue
		}
		start := e.now()
		j.exec.Status = StatusRunning
		j.exec.StartTime = &start
		e.running++
		e.wg.Add(1)
		go e.run(j)
	}
}

func (e *Engine) run(j *job) {
	defer e.wg.Done()

	id, workflowID := j.exec.ID, j.exec.WorkflowID
	logger := e.logger.With("executionId", id, "workflowId", workflowID)
	ctx := context.Background()

	runErr := e.execute(ctx, logger, j)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.running--

	ex := j.exec
	// A cancel already settled the bookkeeping.
	if !ex.finished() {
		end := e.now()
		ex.EndTime = &end
		ex.CurrentNodeID = ""
		if runErr != nil {
			ex.Status = StatusFailed
			ex.Error = runErr.Error()
		} else {
			ex.Status = StatusCompleted
			ex.Progress = 100
		}
	}
	j.nodes = nil

	if runErr != nil {
		logger.Warn("execution failed", "error", runErr)
	} else {
		logger.Info("execution finished", "status", ex.Status, "actualCost", ex.ActualCost)
	}
	e.promote()
}

// execute walks the scheduled nodes in dependency order against a live
// snapshot of the workflow. The first node error fails the run.
func (e *Engine) execute(ctx context.Context, logger *slog.Logger, j *job) error {
	wf, err := e.store.GetWorkflow(ctx, j.exec.WorkflowID)
	if err != nil {
		return fmt.Errorf("load workflow: %w", err)
	}

	snap := &nodes.Snapshot{
		WorkflowID:  j.exec.WorkflowID,
		ExecutionID: j.exec.ID,
		Nodes:       wf.Nodes,
		Edges:       wf.Edges,
	}
	scheduled := j.nodes
	known := make(map[string]bool, len(snap.Nodes))
	for _, n := range snap.Nodes {
		known[n.ID] = true
	}
	for _, n := range scheduled {
		if !known[n.ID] {
			snap.Nodes = append(snap.Nodes, n.Clone())
			known[n.ID] = true
		}
	}

	order := Order(scheduled, wf.Edges)
	total := len(order)
	logger.Debug("execution order computed", "nodes", total)

	for i, n := range order {
		if !e.startNode(j, n.ID) {
			logger.Info("execution stopped before node", "nodeId", n.ID)
			return nil
		}

		idx := -1
		for k := range snap.Nodes {
			if snap.Nodes[k].ID == n.ID {
				idx = k
				break
			}
		}
		if _, err := e.runner.Execute(ctx, snap, idx); err != nil {
			return err
		}

		tariff := e.tariffs.For(snap.Nodes[idx].Kind)
		e.mu.Lock()
		// A cancelled run keeps the numbers it had when it was cancelled.
		if j.exec.Status == StatusRunning {
			j.exec.ActualCost += tariff.Cost
			j.exec.Progress = (i + 1) * 100 / total
		}
		e.mu.Unlock()
	}
	return nil
}

// startNode records nodeID as current and reports whether the run may
// proceed. A cancelled execution stops at the next node boundary.
func (e *Engine) startNode(j *job, nodeID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if j.exec.Status != StatusRunning {
		return false
	}
	j.exec.CurrentNodeID = nodeID
	return true
}

// Execution returns a copy of the execution with id.
func (e *Engine) Execution(id string) (Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	j, ok := e.executions[id]
	if !ok {
		return Execution{}, ErrExecutionNotFound
	}
	return copyExecution(j.exec), nil
}

// Executions lists every execution in submission order.
func (e *Engine) Executions() []Execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Execution, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, copyExecution(e.executions[id].exec))
	}
	return out
}

// Queue lists executions waiting for a slot, head first.
func (e *Engine) Queue() []QueueEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]QueueEntry{}, e.queue...)
}

// Cancel marks a queued or running execution failed with a "cancelled"
// error. A queued execution leaves the queue; a running one stops before
// its next node, but a node already in flight is not interrupted.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	j, ok := e.executions[id]
	if !ok {
		return ErrExecutionNotFound
	}
	ex := j.exec
	switch ex.Status {
	case StatusQueued:
		for i := range e.queue {
			if e.queue[i].ID == id {
				e.queue = append(e.queue[:i], e.queue[i+1:]...)
				break
			}
		}
		j.nodes = nil
	case StatusRunning:
	default:
		return ErrNotCancellable
	}

	end := e.now()
	ex.Status = StatusFailed
	ex.Error = cancelledError
	ex.EndTime = &end
	e.logger.Info("execution cancelled", "executionId", id, "workflowId", ex.WorkflowID, "currentNodeId", ex.CurrentNodeID)
	return nil
}

// Wait blocks until every started execution has returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

func copyExecution(ex *Execution) Execution {
	cp := *ex
	if ex.StartTime != nil {
		t := *ex.StartTime
		cp.StartTime = &t
	}
	if ex.EndTime != nil {
		t := *ex.EndTime
		cp.EndTime = &t
	}
	return cp
}
