package workflow

import (
	"fmt"
)

// Logger is the minimal logging surface this package needs
type Logger interface {
	Warn(msg string, keysAndValues ...interface{})
}

type nopLogger struct{}

func (nopLogger) Warn(string, ...interface{}) {}

// Graph provides traversal queries over a workflow. It is built once per
// execution and read-only afterwards; edge direction is source → target.
type Graph struct {
	wf        *Workflow
	nodesByID map[string]*Node
	pred      map[string][]string
	succ      map[string][]string
	inEdges   map[string][]*Edge
	outEdges  map[string][]*Edge
	backEdges map[string]map[string]bool // source -> target -> true
	log       Logger
}

// NewGraph builds the adjacency tables for a workflow. The logger may be
// nil; it is only used for the bounded ancestor walk warning.
func NewGraph(wf *Workflow, log Logger) *Graph {
	if log == nil {
		log = nopLogger{}
	}

	g := &Graph{
		wf:        wf,
		nodesByID: make(map[string]*Node, len(wf.Nodes)),
		pred:      make(map[string][]string),
		succ:      make(map[string][]string),
		inEdges:   make(map[string][]*Edge),
		outEdges:  make(map[string][]*Edge),
		log:       log,
	}

	for i := range wf.Nodes {
		g.nodesByID[wf.Nodes[i].ID] = &wf.Nodes[i]
	}

	for i := range wf.Edges {
		edge := &wf.Edges[i]
		g.outEdges[edge.Source] = append(g.outEdges[edge.Source], edge)
		g.inEdges[edge.Target] = append(g.inEdges[edge.Target], edge)
		if !contains(g.succ[edge.Source], edge.Target) {
			g.succ[edge.Source] = append(g.succ[edge.Source], edge.Target)
		}
		if !contains(g.pred[edge.Target], edge.Source) {
			g.pred[edge.Target] = append(g.pred[edge.Target], edge.Source)
		}
	}

	g.backEdges = g.computeBackEdges()

	return g
}

// Workflow returns the underlying workflow
func (g *Graph) Workflow() *Workflow {
	return g.wf
}

// Node returns the node with the given id
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodesByID[id]
	return n, ok
}

// Predecessors returns the ids of nodes with an edge into id
func (g *Graph) Predecessors(id string) []string {
	return append([]string(nil), g.pred[id]...)
}

// Successors returns the ids of nodes with an edge out of id
func (g *Graph) Successors(id string) []string {
	return append([]string(nil), g.succ[id]...)
}

// IncomingEdges returns the edges whose target is id
func (g *Graph) IncomingEdges(id string) []*Edge {
	return g.inEdges[id]
}

// OutgoingEdges returns the edges whose source is id
func (g *Graph) OutgoingEdges(id string) []*Edge {
	return g.outEdges[id]
}

// IsBackEdge reports whether the edge source → target closes a cycle:
// in a traversal from the graph's roots, target is reached before source.
func (g *Graph) IsBackEdge(source, target string) bool {
	return g.backEdges[source][target]
}

// Descendants returns every node transitively reachable from id,
// excluding id itself.
func (g *Graph) Descendants(id string) []string {
	var result []string
	seen := map[string]bool{id: true}
	frontier := append([]string(nil), g.succ[id]...)
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		if seen[n] {
			continue
		}
		seen[n] = true
		result = append(result, n)
		frontier = append(frontier, g.succ[n]...)
	}
	return result
}

// ReachableFrom returns id plus every node transitively reachable from it
func (g *Graph) ReachableFrom(id string) []string {
	return append([]string{id}, g.Descendants(id)...)
}

// Ancestors returns every transitive predecessor of id, ordered
// furthest-first, excluding id itself. The ordering walk revisits nodes to
// push shared ancestors ahead of their dependents, so on cyclic graphs it
// is capped at |ancestors|² steps; past the cap the remaining ancestors are
// appended in discovery order and a warning is logged.
func (g *Graph) Ancestors(id string) []string {
	// 1. Collect the ancestor set with a plain visited BFS.
	var discovered []string
	set := make(map[string]bool)
	frontier := append([]string(nil), g.pred[id]...)
	for len(frontier) > 0 {
		n := frontier[0]
		frontier = frontier[1:]
		if n == id || set[n] {
			continue
		}
		set[n] = true
		discovered = append(discovered, n)
		frontier = append(frontier, g.pred[n]...)
	}

	if len(set) == 0 {
		return nil
	}

	// 2. Ordering walk with revisits: the last time a node is popped is its
	// furthest distance from id. Bounded so cycles cannot spin forever.
	bound := len(set) * len(set)
	var order []string
	frontier = append([]string(nil), g.pred[id]...)
	steps := 0
	for len(frontier) > 0 {
		if steps >= bound {
			g.log.Warn("ancestor ordering walk hit iteration bound, returning partial order",
				"node_id", id, "bound", bound, "ancestors", len(set))
			break
		}
		steps++
		n := frontier[0]
		frontier = frontier[1:]
		if n == id || !set[n] {
			continue
		}
		order = append(order, n)
		frontier = append(frontier, g.pred[n]...)
	}

	// Keep the last occurrence of each node, then flip so the furthest
	// ancestor comes first.
	seen := make(map[string]bool, len(set))
	result := make([]string, 0, len(set))
	for i := len(order) - 1; i >= 0; i-- {
		if seen[order[i]] {
			continue
		}
		seen[order[i]] = true
		result = append(result, order[i])
	}
	for _, n := range discovered {
		if !seen[n] {
			seen[n] = true
			result = append(result, n)
		}
	}
	return result
}

// NameToID builds the name → id table used by reference resolution.
// Duplicate names are an error because references would be ambiguous.
func (g *Graph) NameToID() (map[string]string, error) {
	names := make(map[string]string, len(g.wf.Nodes))
	for i := range g.wf.Nodes {
		node := &g.wf.Nodes[i]
		name := node.Name()
		if name == "" {
			continue
		}
		if existing, ok := names[name]; ok && existing != node.ID {
			return nil, fmt.Errorf("duplicate node name %q (nodes %s and %s)", name, existing, node.ID)
		}
		names[name] = node.ID
	}
	return names, nil
}

// computeBackEdges classifies edges by DFS traversal order from the
// graph's roots: an edge is a back edge only when its target is still on
// the active DFS stack, i.e. it closes the cycle. Forward edges within a
// loop body stay forward even though their target can reach their source.
func (g *Graph) computeBackEdges() map[string]map[string]bool {
	back := make(map[string]map[string]bool)
	onStack := make(map[string]bool)
	done := make(map[string]bool)

	var visit func(id string)
	visit = func(id string) {
		onStack[id] = true
		for _, succID := range g.succ[id] {
			if onStack[succID] {
				if back[id] == nil {
					back[id] = make(map[string]bool)
				}
				back[id][succID] = true
				continue
			}
			if !done[succID] {
				visit(succID)
			}
		}
		onStack[id] = false
		done[id] = true
	}

	// Roots first so the traversal follows execution order; a second pass
	// covers nodes a malformed document leaves unreachable.
	for i := range g.wf.Nodes {
		id := g.wf.Nodes[i].ID
		if len(g.pred[id]) == 0 && !done[id] {
			visit(id)
		}
	}
	for i := range g.wf.Nodes {
		if id := g.wf.Nodes[i].ID; !done[id] {
			visit(id)
		}
	}
	return back
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
