package mesh

// NodeKind enumerates the closed set of node variants a scenario may use.
type NodeKind string

const (
	KindStep   NodeKind = "step"
	KindBranch NodeKind = "branch"
	KindAgent  NodeKind = "agent"
)

// Graph is the declarative definition of a training scenario. It is authored
// in the external graph editor, loaded read-only at session start and never
// mutated during a run.
type Graph struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Nodes    []Node `json:"nodes"`
	Edges    []Edge `json:"edges"`
	MaxTurns int    `json:"maxTurns,omitempty"`
}

// Node is one step of a scenario. QuizGate marks a knowledge-check gate that
// suspends turn advancement until answered. Loop nodes bound the cycles that
// pass through them via MaxIterations.
type Node struct {
	ID            string   `json:"id"`
	Kind          NodeKind `json:"kind"`
	Prompt        string   `json:"prompt,omitempty"`
	QuizGate      bool     `json:"quizGate,omitempty"`
	QuizQuestion  string   `json:"quizQuestion,omitempty"`
	Loop          bool     `json:"loop,omitempty"`
	MaxIterations int      `json:"maxIterations,omitempty"`
	Persona       *Persona `json:"persona,omitempty"`
}

// Edge connects two nodes. When is matched case-insensitively against the
// trainee input on branch nodes; Fallback marks the edge taken when no
// condition matches.
type Edge struct {
	From     string `json:"from"`
	To       string `json:"to"`
	When     string `json:"when,omitempty"`
	Fallback bool   `json:"fallback,omitempty"`
}

// Persona captures the conversational attributes of an agent node.
type Persona struct {
	Name        string `json:"name"`
	Role        string `json:"role,omitempty"`
	Tone        string `json:"tone,omitempty"`
	PromptHint  string `json:"promptHint,omitempty"`
	OpeningLine string `json:"openingLine,omitempty"`
	VoiceID     string `json:"voiceId,omitempty"`
}

// NodeByID returns the node with the given id.
func (g *Graph) NodeByID(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// OutgoingEdges returns the edges leaving the given node in authored order.
func (g *Graph) OutgoingEdges(nodeID string) []Edge {
	var out []Edge
	for _, e := range g.Edges {
		if e.From == nodeID {
			out = append(out, e)
		}
	}
	return out
}
