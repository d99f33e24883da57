package storage

import (
	"maps"
	"slices"
	"time"
)

// NodeKind identifies which handler executes a node. The set is closed;
// unknown kinds are carried through storage untouched and run as no-ops.
type NodeKind string

const (
	KindPrompt            NodeKind = "prompt"
	KindImageGenerate     NodeKind = "image-generate"
	KindImageEdit         NodeKind = "image-edit"
	KindVideoGenerate     NodeKind = "video-generate"
	KindBackgroundReplace NodeKind = "background-replace"
)

// NodeStatus is the per-node execution marker. Running is transient and is
// never written to the database.
type NodeStatus string

const (
	StatusIdle     NodeStatus = "idle"
	StatusRunning  NodeStatus = "running"
	StatusComplete NodeStatus = "complete"
	StatusError    NodeStatus = "error"
)

type ResultKind string

const (
	ResultText  ResultKind = "text"
	ResultImage ResultKind = "image"
	ResultVideo ResultKind = "video"
)

// Workflow is the node/edge graph edited on the canvas.
type Workflow struct {
	ID         string    `json:"id" db:"id"`
	Name       string    `json:"name" db:"name"`
	Nodes      []Node    `json:"nodes" db:"nodes"`
	Edges      []Edge    `json:"edges" db:"edges"`
	CreatedAt  time.Time `json:"createdAt" db:"created_at"`
	ModifiedAt time.Time `json:"modifiedAt" db:"modified_at"`
}

// ToFrontend returns only the fields the canvas needs: id, nodes, edges.
func (w *Workflow) ToFrontend() map[string]any {
	return map[string]any{
		"id":    w.ID,
		"nodes": w.Nodes,
		"edges": w.Edges,
	}
}

// Clone returns a copy that shares no mutable state with w.
func (w *Workflow) Clone() *Workflow {
	c := *w
	c.Nodes = make([]Node, len(w.Nodes))
	for i, n := range w.Nodes {
		c.Nodes[i] = n.Clone()
	}
	c.Edges = slices.Clone(w.Edges)
	return &c
}

// Persistable returns a clone with every running node coerced to idle.
func (w *Workflow) Persistable() *Workflow {
	c := w.Clone()
	for i := range c.Nodes {
		if c.Nodes[i].Status == StatusRunning || c.Nodes[i].Status == "" {
			c.Nodes[i].Status = StatusIdle
		}
	}
	return c
}

// NodeIndex returns the position of the node with the given id, or -1.
func (w *Workflow) NodeIndex(id string) int {
	return slices.IndexFunc(w.Nodes, func(n Node) bool { return n.ID == id })
}

type NodePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Node is one unit of work on the canvas. Position and Size belong to the
// rendering layer; the engine only ever writes Status, Result and
// ResultHistory.
type Node struct {
	ID            string         `json:"id"`
	Kind          NodeKind       `json:"type"`
	Position      NodePosition   `json:"position"`
	Size          *NodeSize      `json:"size,omitempty"`
	Status        NodeStatus     `json:"status"`
	Config        map[string]any `json:"config"`
	Result        *NodeResult    `json:"result,omitempty"`
	ResultHistory []NodeResult   `json:"resultHistory,omitempty"`
}

func (n Node) Clone() Node {
	c := n
	c.Config = maps.Clone(n.Config)
	if n.Size != nil {
		s := *n.Size
		c.Size = &s
	}
	if n.Result != nil {
		r := n.Result.Clone()
		c.Result = &r
	}
	if n.ResultHistory != nil {
		c.ResultHistory = make([]NodeResult, len(n.ResultHistory))
		for i, r := range n.ResultHistory {
			c.ResultHistory[i] = r.Clone()
		}
	}
	return c
}

// ConfigString returns a non-empty string config value.
func (n Node) ConfigString(key string) (string, bool) {
	s, ok := n.Config[key].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// ConfigNumber returns a numeric config value. JSON decoding yields float64,
// callers from Go may pass ints.
func (n Node) ConfigNumber(key string) (float64, bool) {
	switch v := n.Config[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

// NodeResult is one output produced by a node. ID is assigned once and is
// how history entries are addressed for deletion.
type NodeResult struct {
	ID       string         `json:"id"`
	Kind     ResultKind     `json:"type"`
	Data     string         `json:"data"`
	AssetRef string         `json:"assetRef,omitempty"`
	Metadata ResultMetadata `json:"metadata"`
}

func (r NodeResult) Clone() NodeResult {
	c := r
	c.Metadata.InputsUsed = maps.Clone(r.Metadata.InputsUsed)
	return c
}

type ResultMetadata struct {
	Timestamp   time.Time      `json:"timestamp"`
	Model       string         `json:"model,omitempty"`
	InputsUsed  map[string]any `json:"inputsUsed"`
	ExecutionID string         `json:"executionId,omitempty"`
}

// Edge is a directed data-flow link, optionally scoped to named handles.
type Edge struct {
	ID           string  `json:"id"`
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	SourceHandle *string `json:"sourceHandle,omitempty"`
	TargetHandle *string `json:"targetHandle,omitempty"`
}
