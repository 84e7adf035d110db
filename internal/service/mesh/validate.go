package mesh

import (
	"errors"
	"fmt"
	"strings"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
)

// ErrorKind classifies graph validation failures.
type ErrorKind string

const (
	MultipleEntryNodes ErrorKind = "multiple_entry_nodes"
	UnreachableNode    ErrorKind = "unreachable_node"
	IncompleteBranch   ErrorKind = "incomplete_branch"
	UnboundedLoop      ErrorKind = "unbounded_loop"
)

// GraphError reports why a scenario graph cannot be executed.
type GraphError struct {
	Kind   ErrorKind
	NodeID string
	Detail string
}

func (e *GraphError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("graph validation failed (%s) at node %q: %s", e.Kind, e.NodeID, e.Detail)
	}
	return fmt.Sprintf("graph validation failed (%s): %s", e.Kind, e.Detail)
}

// ErrGraphExhausted signals that the current node has no outgoing edge. It is
// an expected control-flow signal: the caller ends the session.
var ErrGraphExhausted = errors.New("graph exhausted: no next node")

// ValidGraph wraps a graph that passed Validate. Execution entry points only
// accept ValidGraph so an unvalidated definition can never drive a session.
type ValidGraph struct {
	graph   *meshmodel.Graph
	entryID string
}

// Graph returns the underlying read-only definition.
func (v *ValidGraph) Graph() *meshmodel.Graph { return v.graph }

// EntryID returns the single in-degree-zero node the session starts at.
func (v *ValidGraph) EntryID() string { return v.entryID }

// Validate checks the structural invariants of a scenario graph: exactly one
// entry node, every node reachable from it, branch completeness and bounded
// loops. The first violation found is returned as a *GraphError.
func Validate(g *meshmodel.Graph) (*ValidGraph, error) {
	if len(g.Nodes) == 0 {
		return nil, &GraphError{Kind: MultipleEntryNodes, Detail: "expected exactly one entry node, found 0 (graph has no nodes)"}
	}

	seen := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if seen[n.ID] {
			return nil, &GraphError{Kind: UnreachableNode, NodeID: n.ID, Detail: "duplicate node id"}
		}
		seen[n.ID] = true
	}
	for _, e := range g.Edges {
		if !seen[e.From] || !seen[e.To] {
			return nil, &GraphError{Kind: UnreachableNode, NodeID: e.From, Detail: fmt.Sprintf("edge %s->%s references an unknown node", e.From, e.To)}
		}
	}

	entry, err := findEntry(g)
	if err != nil {
		return nil, err
	}

	if err := checkReachability(g, entry); err != nil {
		return nil, err
	}
	if err := checkBranches(g); err != nil {
		return nil, err
	}
	if err := checkLoops(g, entry); err != nil {
		return nil, err
	}

	return &ValidGraph{graph: g, entryID: entry}, nil
}

func findEntry(g *meshmodel.Graph) (string, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for _, n := range g.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range g.Edges {
		inDegree[e.To]++
	}

	var entries []string
	for _, n := range g.Nodes {
		if inDegree[n.ID] == 0 {
			entries = append(entries, n.ID)
		}
	}
	if len(entries) != 1 {
		return "", &GraphError{
			Kind:   MultipleEntryNodes,
			Detail: fmt.Sprintf("expected exactly one entry node, found %d", len(entries)),
		}
	}
	return entries[0], nil
}

func checkReachability(g *meshmodel.Graph, entry string) error {
	visited := map[string]bool{entry: true}
	queue := []string{entry}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, e := range g.OutgoingEdges(current) {
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	for _, n := range g.Nodes {
		if !visited[n.ID] {
			return &GraphError{Kind: UnreachableNode, NodeID: n.ID, Detail: "not reachable from the entry node"}
		}
	}
	return nil
}

func checkBranches(g *meshmodel.Graph) error {
	for _, n := range g.Nodes {
		out := g.OutgoingEdges(n.ID)
		if n.Kind != meshmodel.KindBranch {
			if len(out) > 1 {
				return &GraphError{Kind: IncompleteBranch, NodeID: n.ID, Detail: fmt.Sprintf("%s node has %d outgoing edges, expected at most 1", n.Kind, len(out))}
			}
			continue
		}

		if len(out) < 2 {
			return &GraphError{Kind: IncompleteBranch, NodeID: n.ID, Detail: fmt.Sprintf("branch has %d outgoing edges, expected at least 2", len(out))}
		}

		conditions := make(map[string]bool, len(out))
		fallbacks := 0
		for _, e := range out {
			if e.Fallback {
				fallbacks++
				continue
			}
			when := strings.ToLower(strings.TrimSpace(e.When))
			if when == "" {
				return &GraphError{Kind: IncompleteBranch, NodeID: n.ID, Detail: fmt.Sprintf("edge to %s has neither a condition nor a fallback flag", e.To)}
			}
			if conditions[when] {
				return &GraphError{Kind: IncompleteBranch, NodeID: n.ID, Detail: fmt.Sprintf("condition %q matches more than one edge", when)}
			}
			conditions[when] = true
		}
		if fallbacks == 0 {
			return &GraphError{Kind: IncompleteBranch, NodeID: n.ID, Detail: "branch conditions do not cover all inputs and no fallback edge is present"}
		}
		if fallbacks > 1 {
			return &GraphError{Kind: IncompleteBranch, NodeID: n.ID, Detail: fmt.Sprintf("branch has %d fallback edges, expected 1", fallbacks)}
		}
	}
	return nil
}

// checkLoops rejects any cycle reachable from entry that does not pass
// through a node explicitly flagged as a bounded loop.
func checkLoops(g *meshmodel.Graph, entry string) error {
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	colors := make(map[string]int, len(g.Nodes))

	var visit func(id string, stack []string) error
	visit = func(id string, stack []string) error {
		colors[id] = inStack
		stack = append(stack, id)
		for _, e := range g.OutgoingEdges(id) {
			switch colors[e.To] {
			case inStack:
				if !cycleIsBounded(g, stack, e.To) {
					return &GraphError{Kind: UnboundedLoop, NodeID: e.To, Detail: "cycle has no node with a loop flag and max-iteration bound"}
				}
			case unvisited:
				if err := visit(e.To, stack); err != nil {
					return err
				}
			}
		}
		colors[id] = done
		return nil
	}

	return visit(entry, nil)
}

func cycleIsBounded(g *meshmodel.Graph, stack []string, reentry string) bool {
	start := -1
	for i, id := range stack {
		if id == reentry {
			start = i
			break
		}
	}
	if start < 0 {
		return false
	}
	for _, id := range stack[start:] {
		if n, ok := g.NodeByID(id); ok && n.Loop && n.MaxIterations >= 1 {
			return true
		}
	}
	return false
}
