// Package depgraph implements the Dependency Graph (C2): a small
// in-memory DAG over node names that orders them into deterministic
// execution waves via iterative predecessor elimination.
package depgraph

import (
	"sort"

	"github.com/agentteam/runtime/pkg/agentmodel"
)

// Graph is a set of node names plus a node → predecessor-set mapping.
// The zero value is not usable; construct with New.
type Graph struct {
	nodes map[string]bool
	preds map[string]map[string]bool
}

// New returns an empty Graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		preds: make(map[string]map[string]bool),
	}
}

// AddNode registers a node name. Adding the same name twice is a no-op.
func (g *Graph) AddNode(name string) {
	if g.nodes[name] {
		return
	}
	g.nodes[name] = true
	g.preds[name] = make(map[string]bool)
}

// AddEdge records that `to` depends on `from` (from must complete
// before to). Both ends are auto-registered as nodes if not already
// present.
func (g *Graph) AddEdge(from, to string) {
	g.AddNode(from)
	g.AddNode(to)
	g.preds[to][from] = true
}

// Waves orders all nodes into a deterministic list of sets via
// iterative predecessor elimination: each iteration collects every
// remaining node whose predecessors are already completed, sorts that
// set lexicographically, and emits it as the next wave. An iteration
// that completes nothing while nodes remain means a cycle; Waves
// returns an *agentmodel.CycleError naming the leftover nodes.
func (g *Graph) Waves() ([][]string, error) {
	remaining := make(map[string]bool, len(g.nodes))
	for n := range g.nodes {
		remaining[n] = true
	}
	completed := make(map[string]bool, len(g.nodes))

	var waves [][]string
	for len(remaining) > 0 {
		var ready []string
		for n := range remaining {
			if allCompleted(g.preds[n], completed) {
				ready = append(ready, n)
			}
		}
		if len(ready) == 0 {
			leftover := make([]string, 0, len(remaining))
			for n := range remaining {
				leftover = append(leftover, n)
			}
			sort.Strings(leftover)
			return nil, &agentmodel.CycleError{Remaining: leftover}
		}
		sort.Strings(ready)
		waves = append(waves, ready)
		for _, n := range ready {
			completed[n] = true
			delete(remaining, n)
		}
	}
	return waves, nil
}

func allCompleted(preds map[string]bool, completed map[string]bool) bool {
	for p := range preds {
		if !completed[p] {
			return false
		}
	}
	return true
}

// KnownEdge is one entry of a well-known-edges registry: an edge
// applied only when both From and To are among the selected names.
type KnownEdge struct {
	From string
	To   string
}

// FromSelection builds a Graph from a flat list of selected node
// names. If waves is non-nil, it is treated as a pre-partitioned wave
// list: every node in waves[k] gets an edge from every node in
// waves[k-1], for k > 0 (any name in waves not present in names is
// still added as a node). If waves is nil, knownEdges supplies the
// registry of well-known edges, each applied only when both endpoints
// are present in names.
func FromSelection(names []string, waves [][]string, knownEdges []KnownEdge) *Graph {
	g := New()
	for _, n := range names {
		g.AddNode(n)
	}

	if waves != nil {
		for _, wave := range waves {
			for _, n := range wave {
				g.AddNode(n)
			}
		}
		for i := 1; i < len(waves); i++ {
			for _, to := range waves[i] {
				for _, from := range waves[i-1] {
					g.AddEdge(from, to)
				}
			}
		}
		return g
	}

	selected := make(map[string]bool, len(names))
	for _, n := range names {
		selected[n] = true
	}
	for _, e := range knownEdges {
		if selected[e.From] && selected[e.To] {
			g.AddEdge(e.From, e.To)
		}
	}
	return g
}
