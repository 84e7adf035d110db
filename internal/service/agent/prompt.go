package agent

import (
	"fmt"
	"strings"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
)

// BuildSystemPrompt assembles the system prompt for an agent node. The
// persona is data authored in the graph editor, not code: every attribute
// the editor exposes flows into the prompt here.
func BuildSystemPrompt(node meshmodel.Node) string {
	persona := node.Persona
	if persona == nil {
		return "You are a training counterpart in a live practice conversation. " +
			"Respond naturally and stay within the scenario."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s", persona.Name)
	if persona.Role != "" {
		fmt.Fprintf(&b, ", %s", persona.Role)
	}
	b.WriteString(", playing a counterpart in a live training conversation. Stay in character for the entire session.\n")

	if persona.Tone != "" {
		fmt.Fprintf(&b, "\nTone: %s\n", persona.Tone)
	}
	if persona.PromptHint != "" {
		fmt.Fprintf(&b, "\nGuidance: %s\n", persona.PromptHint)
	}
	if node.Prompt != "" {
		fmt.Fprintf(&b, "\nScenario step: %s\n", node.Prompt)
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Keep replies short enough to speak aloud; this is a voice conversation.\n")
	b.WriteString("- React to what the trainee actually said, not to what they should have said.\n")
	b.WriteString("- Never break character, mention being an AI, or reference the training setup.\n")

	if persona.OpeningLine != "" {
		fmt.Fprintf(&b, "\nOpening line reference: %s\n", persona.OpeningLine)
	}
	return b.String()
}
