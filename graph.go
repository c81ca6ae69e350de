package asyncfsm

import (
	"bytes"
	"fmt"
	"sort"
)

// Edge is a directed edge of the transition graph
type Edge struct {
	From  StateID
	Event EventID
	To    StateID
}

// Graph is the reachability graph of a transition table. Wildcard edges
// (the timeout handler) are expanded to one edge per discovered state.
type Graph struct {
	Initial StateID
	States  []StateID // sorted
	Edges   []Edge

	adj map[StateID][]StateID
}

// NewGraph builds the graph from declared edges and wildcard targets. The
// state set is the initial state plus every edge and wildcard target;
// edge sources are not added, so an unknown source is caught by Validate.
func NewGraph(initial StateID, edges []Edge, wildcard []StateID) *Graph {
	seen := map[StateID]bool{initial: true}
	for _, e := range edges {
		seen[e.To] = true
	}
	for _, s := range wildcard {
		seen[s] = true
	}

	g := &Graph{
		Initial: initial,
		adj:     make(map[StateID][]StateID, len(seen)),
	}
	for s := range seen {
		g.States = append(g.States, s)
	}
	sort.Slice(g.States, func(i, j int) bool { return g.States[i] < g.States[j] })

	g.Edges = append(g.Edges, edges...)
	for _, e := range edges {
		g.adj[e.From] = append(g.adj[e.From], e.To)
	}
	for _, target := range wildcard {
		for _, s := range g.States {
			g.Edges = append(g.Edges, Edge{From: s, Event: TimeoutEvent, To: target})
			g.adj[s] = append(g.adj[s], target)
		}
	}
	return g
}

// HasState reports whether s is a discovered state
func (g *Graph) HasState(s StateID) bool {
	i := sort.Search(len(g.States), func(i int) bool { return g.States[i] >= s })
	return i < len(g.States) && g.States[i] == s
}

// Reachable returns the set of states reachable from the initial state
func (g *Graph) Reachable() map[StateID]bool {
	visited := map[StateID]bool{g.Initial: true}
	queue := []StateID{g.Initial}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range g.adj[s] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return visited
}

// Validate checks that every edge source is a discovered state and that every
// discovered state is reachable from the initial state. The first failure,
// in sorted state order, is returned as a *ValidationError.
func (g *Graph) Validate() error {
	if g.Initial == "" {
		return &ValidationError{Kind: KindMissingInitial}
	}
	for _, e := range g.Edges {
		if !g.HasState(e.From) {
			return &ValidationError{
				Kind:   KindUndeclaredState,
				State:  e.From,
				Event:  e.Event,
				Detail: "source state is neither the initial state nor a transition target",
			}
		}
	}

	reached := g.Reachable()
	for _, s := range g.States {
		if !reached[s] {
			return &ValidationError{
				Kind:   KindUnreachableState,
				State:  s,
				Detail: fmt.Sprintf("not reachable from initial state %q", g.Initial),
			}
		}
	}
	return nil
}

// DOT renders the graph as Graphviz source. Wildcard edges are drawn once
// from a "*" node.
func (g *Graph) DOT(name string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "digraph %q {\n", name)
	buf.WriteString("  rankdir=LR;\n  node [shape=box, style=rounded];\n")
	for _, s := range g.States {
		if s == g.Initial {
			fmt.Fprintf(&buf, "  %q [peripheries=2];\n", s)
			continue
		}
		fmt.Fprintf(&buf, "  %q;\n", s)
	}

	wildcard := make(map[StateID]bool)
	for _, e := range g.Edges {
		if e.Event == TimeoutEvent {
			wildcard[e.To] = true
			continue
		}
		fmt.Fprintf(&buf, "  %q -> %q [label=%q];\n", e.From, e.To, e.Event)
	}
	if len(wildcard) > 0 {
		buf.WriteString("  \"*\" [shape=point];\n")
		targets := make([]StateID, 0, len(wildcard))
		for s := range wildcard {
			targets = append(targets, s)
		}
		sort.Slice(targets, func(i, j int) bool { return targets[i] < targets[j] })
		for _, s := range targets {
			fmt.Fprintf(&buf, "  \"*\" -> %q [label=\"timeout\", style=dashed];\n", s)
		}
	}
	buf.WriteString("}\n")
	return buf.String()
}
