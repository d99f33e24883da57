package engine

import "genflow/services/storage"

// Order returns nodes in dependency order using Kahn's algorithm. Nodes with
// no pending dependencies run in their original array order. Nodes that
// never become ready, because of a cycle or an edge from a node that is not
// in the list, are appended in array order, so every node appears exactly
// once.
func Order(nodes []storage.Node, edges []storage.Edge) []storage.Node {
	index := make(map[string]int, len(nodes))
	for i, n := range nodes {
		if _, dup := index[n.ID]; !dup {
			index[n.ID] = i
		}
	}

	inDegree := make([]int, len(nodes))
	targets := make(map[string][]int)
	for _, e := range edges {
		t, ok := index[e.Target]
		if !ok {
			continue
		}
		// Dangling sources still count: the target waits for something that
		// never runs and ends up in the fallback tail.
		inDegree[t]++
		targets[e.Source] = append(targets[e.Source], t)
	}

	queue := make([]int, 0, len(nodes))
	for i := range nodes {
		if inDegree[i] == 0 {
			queue = append(queue, i)
		}
	}

	out := make([]storage.Node, 0, len(nodes))
	done := make([]bool, len(nodes))
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if done[i] {
			continue
		}
		done[i] = true
		out = append(out, nodes[i])
		for _, t := range targets[nodes[i].ID] {
			inDegree[t]--
			if inDegree[t] == 0 {
				queue = append(queue, t)
			}
		}
	}

	for i, n := range nodes {
		if !done[i] {
			out = append(out, n)
		}
	}
	return out
}
