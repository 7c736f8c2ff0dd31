// Package callgraph turns rewrite events into lattice graphs: which methods
// were routed to the bridge and which call sites were patched.
package callgraph

import (
	"github.com/zboralski/lattice"

	"unmock/internal/rewrite"
)

// BuildRewriteGraph constructs a lattice.Graph from rewrite results. Each
// rewritten method becomes a node with an edge to the bridge method or call
// target recorded for it. Skipped classes contribute nothing.
func BuildRewriteGraph(results []*rewrite.Result) *lattice.Graph {
	g := &lattice.Graph{}
	seen := map[string]bool{}
	edges := map[[2]string]bool{}
	node := func(name string) {
		if !seen[name] {
			seen[name] = true
			g.Nodes = append(g.Nodes, name)
		}
	}
	for _, r := range results {
		if r == nil || r.Skipped {
			continue
		}
		for _, ev := range r.Events {
			node(ev.Method)
			node(ev.Target)
			key := [2]string{ev.Method, ev.Target}
			if edges[key] {
				continue
			}
			edges[key] = true
			g.Edges = append(g.Edges, lattice.Edge{
				Caller: ev.Method,
				Callee: ev.Target,
			})
		}
	}
	g.Dedup()
	return g
}
