package mesh

import (
	"fmt"
	"strings"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
)

// ResolveNext returns the node that follows currentNodeID. Step and agent
// nodes follow their single outgoing edge; branch nodes match the trainee
// input against edge conditions, first match wins, fallback otherwise.
// Returns ErrGraphExhausted when the node has no outgoing edge.
func (v *ValidGraph) ResolveNext(currentNodeID, input string) (string, error) {
	node, ok := v.graph.NodeByID(currentNodeID)
	if !ok {
		return "", fmt.Errorf("node %q not found in graph %q", currentNodeID, v.graph.ID)
	}

	out := v.graph.OutgoingEdges(currentNodeID)
	if len(out) == 0 {
		return "", ErrGraphExhausted
	}

	if node.Kind != meshmodel.KindBranch {
		return out[0].To, nil
	}

	normalized := strings.ToLower(strings.TrimSpace(input))
	var fallback string
	for _, e := range out {
		if e.Fallback {
			fallback = e.To
			continue
		}
		if strings.ToLower(strings.TrimSpace(e.When)) == normalized {
			return e.To, nil
		}
	}
	return fallback, nil
}

// EstimateTotalTurns reports the progress denominator shown by the UI. Linear
// graphs get their exact path length; branching graphs get the configured cap
// since the taken path is unknown until runtime. The value is advisory and
// never terminates a session.
func (v *ValidGraph) EstimateTotalTurns(cap int) int {
	if v.isLinear() {
		return len(v.graph.Nodes)
	}
	if v.graph.MaxTurns > 0 {
		return v.graph.MaxTurns
	}
	return cap
}

// CountQuizGates returns the number of quiz-gate nodes in the graph.
func (v *ValidGraph) CountQuizGates() int {
	count := 0
	for _, n := range v.graph.Nodes {
		if n.QuizGate {
			count++
		}
	}
	return count
}

func (v *ValidGraph) isLinear() bool {
	for _, n := range v.graph.Nodes {
		if n.Kind == meshmodel.KindBranch || n.Loop {
			return false
		}
		if len(v.graph.OutgoingEdges(n.ID)) > 1 {
			return false
		}
	}
	return true
}
