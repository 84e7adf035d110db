package agent

import (
	"strings"
	"testing"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
)

func TestBuildSystemPromptIncludesPersonaAttributes(t *testing.T) {
	node := meshmodel.Node{
		ID:     "objection",
		Kind:   meshmodel.KindAgent,
		Prompt: "Push back on the price.",
		Persona: &meshmodel.Persona{
			Name:       "Dana",
			Role:       "a skeptical small-business owner",
			Tone:       "guarded but fair",
			PromptHint: "Mention the competitor's cheaper offer once.",
		},
	}

	prompt := BuildSystemPrompt(node)
	for _, fragment := range []string{
		"Dana",
		"skeptical small-business owner",
		"guarded but fair",
		"competitor's cheaper offer",
		"Push back on the price.",
	} {
		if !strings.Contains(prompt, fragment) {
			t.Fatalf("prompt missing %q:\n%s", fragment, prompt)
		}
	}
}

func TestBuildSystemPromptWithoutPersona(t *testing.T) {
	prompt := BuildSystemPrompt(meshmodel.Node{ID: "n", Kind: meshmodel.KindAgent})
	if prompt == "" {
		t.Fatal("prompt is empty")
	}
	if !strings.Contains(prompt, "training") {
		t.Fatalf("fallback prompt unexpected: %s", prompt)
	}
}

func TestBuildSystemPromptIsStable(t *testing.T) {
	node := meshmodel.Node{
		ID:      "greet",
		Kind:    meshmodel.KindAgent,
		Persona: &meshmodel.Persona{Name: "Sam", OpeningLine: "Welcome in!"},
	}
	if BuildSystemPrompt(node) != BuildSystemPrompt(node) {
		t.Fatal("prompt differs across calls for the same node")
	}
}
