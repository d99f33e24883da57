package nodes

import (
	"time"

	"genflow/services/storage"
)

// ImageInputHandle is the target handle dedicated to image inputs.
const ImageInputHandle = "image-input"

// ResolvePrompt picks the prompt text for node. Among connected prompt
// nodes the one with the latest result timestamp wins, ties going to the
// earlier node in the snapshot; its config prompt is preferred over its
// result data. Without a connected prompt the node's own config is used.
// Returns the text and the id of the node it came from.
func ResolvePrompt(node storage.Node, nodes []storage.Node, edges []storage.Edge) (string, string) {
	sources := incomingSources(node.ID, edges, nil)
	src := latest(nodes, func(n storage.Node) bool {
		return sources[n.ID] && n.Kind == storage.KindPrompt
	})
	if src != nil {
		if text, ok := src.ConfigString("prompt"); ok {
			return text, src.ID
		}
		if src.Result != nil && src.Result.Data != "" {
			return src.Result.Data, src.ID
		}
	}
	if text, ok := node.ConfigString("prompt"); ok {
		return text, node.ID
	}
	return "", ""
}

// ResolveImage picks the upstream image result for node. Sources wired to
// the image-input handle are preferred; otherwise any connected generate or
// edit node with an image result qualifies. The latest timestamp wins with
// the same tie-break as ResolvePrompt.
func ResolveImage(node storage.Node, nodes []storage.Node, edges []storage.Edge) (*storage.NodeResult, string) {
	hasImage := func(n storage.Node) bool {
		return n.Result != nil && n.Result.Kind == storage.ResultImage && n.Result.Data != ""
	}

	handled := incomingSources(node.ID, edges, func(e storage.Edge) bool {
		return e.TargetHandle != nil && *e.TargetHandle == ImageInputHandle
	})
	src := latest(nodes, func(n storage.Node) bool {
		return handled[n.ID] && hasImage(n)
	})

	if src == nil {
		sources := incomingSources(node.ID, edges, nil)
		src = latest(nodes, func(n storage.Node) bool {
			if !sources[n.ID] || !hasImage(n) {
				return false
			}
			return n.Kind == storage.KindImageGenerate || n.Kind == storage.KindImageEdit
		})
	}
	if src == nil {
		return nil, ""
	}
	r := src.Result.Clone()
	return &r, src.ID
}

func incomingSources(target string, edges []storage.Edge, keep func(storage.Edge) bool) map[string]bool {
	out := make(map[string]bool)
	for _, e := range edges {
		if e.Target != target || e.Source == target {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}
		out[e.Source] = true
	}
	return out
}

// latest returns the matching node whose result is most recent. Nodes
// without a result sort as oldest.
func latest(nodes []storage.Node, match func(storage.Node) bool) *storage.Node {
	best := -1
	for i, n := range nodes {
		if !match(n) {
			continue
		}
		if best < 0 || timestamp(n).After(timestamp(nodes[best])) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	n := nodes[best]
	return &n
}

func timestamp(n storage.Node) time.Time {
	if n.Result == nil {
		return time.Time{}
	}
	return n.Result.Metadata.Timestamp
}
