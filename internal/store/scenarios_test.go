package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

const validScenario = `{
	"id": "discovery-call",
	"name": "Discovery Call",
	"nodes": [
		{"id": "open", "kind": "step"},
		{"id": "probe", "kind": "step", "quizGate": true, "quizQuestion": "What do you ask first?"},
		{"id": "close", "kind": "step"}
	],
	"edges": [
		{"from": "open", "to": "probe"},
		{"from": "probe", "to": "close"}
	]
}`

func writeScenario(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseScenario(t *testing.T) {
	valid, err := ParseScenario([]byte(validScenario))
	if err != nil {
		t.Fatalf("ParseScenario: %v", err)
	}
	if valid.Graph().ID != "discovery-call" {
		t.Fatalf("id = %q", valid.Graph().ID)
	}
	if valid.EntryID() != "open" {
		t.Fatalf("entry = %q, want open", valid.EntryID())
	}
	if valid.CountQuizGates() != 1 {
		t.Fatalf("quiz gates = %d, want 1", valid.CountQuizGates())
	}
}

func TestParseScenarioRejectsSchemaViolations(t *testing.T) {
	cases := map[string]string{
		"missing id":    `{"nodes": [{"id": "a", "kind": "step"}], "edges": []}`,
		"unknown kind":  `{"id": "x", "nodes": [{"id": "a", "kind": "teleport"}], "edges": []}`,
		"empty nodes":   `{"id": "x", "nodes": [], "edges": []}`,
		"not an object": `[1, 2, 3]`,
	}
	for name, doc := range cases {
		if _, err := ParseScenario([]byte(doc)); err == nil {
			t.Errorf("%s: ParseScenario accepted invalid document", name)
		}
	}
}

func TestParseScenarioRejectsStructuralViolations(t *testing.T) {
	// Schema-valid but structurally broken: two entry nodes.
	doc := `{
		"id": "broken",
		"nodes": [
			{"id": "a", "kind": "step"},
			{"id": "b", "kind": "step"},
			{"id": "c", "kind": "step"}
		],
		"edges": [
			{"from": "a", "to": "c"},
			{"from": "b", "to": "c"}
		]
	}`
	if _, err := ParseScenario([]byte(doc)); err == nil {
		t.Fatal("ParseScenario accepted a graph with two entries")
	}
}

func TestScenarioStoreLoadsDirectory(t *testing.T) {
	dir := t.TempDir()
	writeScenario(t, dir, "discovery-call.json", validScenario)
	// One broken document must not take the store down.
	writeScenario(t, dir, "broken.json", `{"id": "broken"`)
	writeScenario(t, dir, "notes.txt", "not a scenario")

	store, err := NewScenarioStore(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewScenarioStore: %v", err)
	}

	graphs := store.List()
	if len(graphs) != 1 || graphs[0].ID != "discovery-call" {
		t.Fatalf("List = %+v, want just discovery-call", graphs)
	}

	if _, err := store.Get("discovery-call"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := store.Get("broken"); err != ErrScenarioNotFound {
		t.Fatalf("Get(broken) err = %v, want ErrScenarioNotFound", err)
	}
}

func TestScenarioStoreMissingDirectory(t *testing.T) {
	if _, err := NewScenarioStore(filepath.Join(t.TempDir(), "nope"), zerolog.Nop()); err == nil {
		t.Fatal("expected error for missing directory")
	}
}
