package storage

import (
	"context"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// queryTimeout bounds every round-trip to the database.
const queryTimeout = 5 * time.Second

// DB abstracts the database operations used by the storage layer.
// Satisfied by *pgxpool.Pool in production and pgxmock in tests.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStorage implements Storage using PostgreSQL. Nodes and edges are kept as
// jsonb documents on the workflow row since their shape is owned by the
// canvas and varies per node kind.
type PgStorage struct {
	DB DB
}

// Storage defines the interface for workflow data access.
type Storage interface {
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	UpsertWorkflow(ctx context.Context, wf *Workflow) error
}

// NewInstance creates a new PostgreSQL-backed Storage implementation.
func NewInstance(db *pgxpool.Pool) (Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("repository: db connection cannot be nil")
	}
	return &PgStorage{DB: db}, nil
}

// GetWorkflow loads a workflow graph, respecting soft deletion.
// Returns pgx.ErrNoRows if the workflow does not exist.
func (r *PgStorage) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	wf := &Workflow{ID: id}
	var nodesDoc, edgesDoc []byte
	err := r.DB.QueryRow(ctx, `
        SELECT name, nodes, edges, created_at, modified_at
        FROM workflows
        WHERE id = $1 AND deleted_at IS NULL`,
		id).Scan(&wf.Name, &nodesDoc, &edgesDoc, &wf.CreatedAt, &wf.ModifiedAt)
	if err != nil {
		return nil, err
	}

	if err := decodeList(nodesDoc, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("decode nodes of workflow %q: %w", id, err)
	}
	if err := decodeList(edgesDoc, &wf.Edges); err != nil {
		return nil, fmt.Errorf("decode edges of workflow %q: %w", id, err)
	}
	for i := range wf.Nodes {
		if wf.Nodes[i].Status == "" {
			wf.Nodes[i].Status = StatusIdle
		}
	}
	return wf, nil
}

// UpsertWorkflow writes the whole graph. Running statuses are coerced to
// idle first so a crash mid-execution never leaves a node stuck as running.
func (r *PgStorage) UpsertWorkflow(ctx context.Context, wf *Workflow) error {
	if wf == nil || wf.ID == "" {
		return fmt.Errorf("upsert workflow: missing id")
	}
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	p := wf.Persistable()
	if p.Nodes == nil {
		p.Nodes = []Node{}
	}
	if p.Edges == nil {
		p.Edges = []Edge{}
	}
	nodesDoc, err := json.Marshal(p.Nodes)
	if err != nil {
		return fmt.Errorf("encode nodes of workflow %q: %w", wf.ID, err)
	}
	edgesDoc, err := json.Marshal(p.Edges)
	if err != nil {
		return fmt.Errorf("encode edges of workflow %q: %w", wf.ID, err)
	}

	var modifiedAt time.Time
	err = r.DB.QueryRow(ctx, `
        INSERT INTO workflows (id, name, nodes, edges)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
        SET name = EXCLUDED.name,
            nodes = EXCLUDED.nodes,
            edges = EXCLUDED.edges,
            modified_at = now()
        RETURNING modified_at`,
		wf.ID, wf.Name, string(nodesDoc), string(edgesDoc)).Scan(&modifiedAt)
	if err != nil {
		return fmt.Errorf("upsert workflow %q: %w", wf.ID, err)
	}
	wf.ModifiedAt = modifiedAt
	return nil
}

func decodeList[T any](doc []byte, out *[]T) error {
	if len(doc) == 0 {
		*out = []T{}
		return nil
	}
	if err := json.Unmarshal(doc, out); err != nil {
		return err
	}
	if *out == nil {
		*out = []T{}
	}
	return nil
}
