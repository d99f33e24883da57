package nodes

import (
	"context"
	"errors"
	"time"

	"genflow/pkg/clients/assets"
	"genflow/pkg/clients/provider"
	"genflow/services/storage"
)

// ErrImageInputRequired is returned by image edit nodes that have no
// resolvable upstream image.
var ErrImageInputRequired = errors.New("image edit requires an input image")

// DefaultPlaceholderLatency is how long placeholder handlers pretend to work.
const DefaultPlaceholderLatency = 2 * time.Second

// Handler executes one node kind. A nil result with a nil error means the
// node completed without producing output.
type Handler interface {
	Execute(ctx context.Context, in *Input) (*storage.NodeResult, error)
}

// Deps holds the external clients handlers may need.
type Deps struct {
	Provider provider.Client
	Assets   assets.Client
	// Latency is the simulated duration of placeholder handlers.
	Latency time.Duration
}

// New returns the handler for kind. Adding a node kind means adding a case
// here and a file implementing Handler.
func New(kind storage.NodeKind, deps Deps) Handler {
	switch kind {
	case storage.KindPrompt:
		return PromptNode{}
	case storage.KindImageGenerate:
		return NewImageGenerateNode(deps.Provider)
	case storage.KindImageEdit:
		return NewImageEditNode(deps.Provider)
	case storage.KindVideoGenerate:
		return &VideoNode{latency: deps.Latency}
	case storage.KindBackgroundReplace:
		return &BackgroundReplaceNode{latency: deps.Latency}
	default:
		return noopNode{}
	}
}

type noopNode struct{}

func (noopNode) Execute(context.Context, *Input) (*storage.NodeResult, error) {
	return nil, nil
}

// Input is everything a handler sees for one execution of one node.
type Input struct {
	ExecutionID string
	WorkflowID  string
	// Node carries the config re-read from the graph store right before
	// execution.
	Node storage.Node
	// Nodes is the run's live snapshot, including results produced earlier
	// in this run.
	Nodes []storage.Node
	Edges []storage.Edge
	Now   time.Time

	inline func(ctx context.Context, r *storage.NodeResult) (string, bool)
	hint   func(ctx context.Context, hasImage bool)
}

// Prompt resolves the node's prompt text, using defaultText as last resort.
func (in *Input) Prompt(defaultText string) string {
	text, _ := ResolvePrompt(in.Node, in.Nodes, in.Edges)
	if text == "" {
		return defaultText
	}
	return text
}

// Image resolves the upstream image and returns it inline. A reference that
// cannot be fetched counts as no image. The outcome is reported to the
// canvas as the hasImageInput hint.
func (in *Input) Image(ctx context.Context) (string, bool) {
	var (
		data string
		ok   bool
	)
	if r, _ := ResolveImage(in.Node, in.Nodes, in.Edges); r != nil && in.inline != nil {
		data, ok = in.inline(ctx, r)
	}
	if in.hint != nil {
		in.hint(ctx, ok)
	}
	return data, ok
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
