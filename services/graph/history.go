package graph

import (
	"slices"

	"github.com/google/uuid"

	"genflow/services/storage"
)

// AppendResult adds r to the node's history and makes it the current
// result. A result whose id is already present replaces that entry and moves
// to the end. Results without an id are assigned one.
func AppendResult(n *storage.Node, r storage.NodeResult) storage.NodeResult {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	n.ResultHistory = slices.DeleteFunc(n.ResultHistory, func(h storage.NodeResult) bool {
		return h.ID == r.ID
	})
	n.ResultHistory = append(n.ResultHistory, r)
	syncCurrent(n)
	return r
}

// RemoveResult drops the history entry with the given id. Reports whether an
// entry was removed.
func RemoveResult(n *storage.Node, id string) bool {
	before := len(n.ResultHistory)
	n.ResultHistory = slices.DeleteFunc(n.ResultHistory, func(h storage.NodeResult) bool {
		return h.ID == id
	})
	syncCurrent(n)
	return len(n.ResultHistory) != before
}

// syncCurrent keeps Result equal to the last history entry.
func syncCurrent(n *storage.Node) {
	if len(n.ResultHistory) == 0 {
		n.Result = nil
		return
	}
	last := n.ResultHistory[len(n.ResultHistory)-1].Clone()
	n.Result = &last
}
