package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	meshmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/mesh"
	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
)

var ErrScenarioNotFound = errors.New("scenario not found")

// graphSchema rejects malformed scenario documents before the structural
// validation pass sees them.
const graphSchema = `{
	"type": "object",
	"required": ["id", "nodes", "edges"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"name": {"type": "string"},
		"maxTurns": {"type": "integer", "minimum": 1},
		"nodes": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "kind"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"kind": {"enum": ["step", "branch", "agent"]},
					"quizGate": {"type": "boolean"},
					"loop": {"type": "boolean"},
					"maxIterations": {"type": "integer", "minimum": 1}
				}
			}
		},
		"edges": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["from", "to"],
				"properties": {
					"from": {"type": "string", "minLength": 1},
					"to": {"type": "string", "minLength": 1},
					"when": {"type": "string"},
					"fallback": {"type": "boolean"}
				}
			}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func scenarioSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(graphSchema))
	})
	return compiledSchema, schemaErr
}

// ParseScenario checks one scenario document against the schema and the
// structural graph rules and returns the validated graph.
func ParseScenario(data []byte) (*meshsvc.ValidGraph, error) {
	schema, err := scenarioSchema()
	if err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return nil, fmt.Errorf("scenario document invalid: %s", strings.Join(details, "; "))
	}

	var graph meshmodel.Graph
	if err := json.Unmarshal(data, &graph); err != nil {
		return nil, fmt.Errorf("decode scenario document: %w", err)
	}

	return meshsvc.Validate(&graph)
}

// ScenarioStore serves validated mesh graphs authored by the external graph
// editor. Documents live as *.json files in one directory; edits are picked
// up between sessions, never mid-run (a running session holds the ValidGraph
// it started with).
type ScenarioStore struct {
	mu     sync.RWMutex
	dir    string
	graphs map[string]*meshsvc.ValidGraph
	log    zerolog.Logger
}

// NewScenarioStore loads every scenario document in dir. Invalid documents
// are skipped with a warning so one broken file cannot take down the service.
func NewScenarioStore(dir string, log zerolog.Logger) (*ScenarioStore, error) {
	if _, err := scenarioSchema(); err != nil {
		return nil, fmt.Errorf("compile scenario schema: %w", err)
	}

	s := &ScenarioStore{
		dir:    dir,
		graphs: make(map[string]*meshsvc.ValidGraph),
		log:    log.With().Str("component", "scenarios").Logger(),
	}
	if err := s.loadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the validated graph for a scenario id.
func (s *ScenarioStore) Get(id string) (*meshsvc.ValidGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	graph, ok := s.graphs[id]
	if !ok {
		return nil, ErrScenarioNotFound
	}
	return graph, nil
}

// List returns scenario summaries sorted by id.
func (s *ScenarioStore) List() []meshmodel.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]meshmodel.Graph, 0, len(s.graphs))
	for _, g := range s.graphs {
		out = append(out, *g.Graph())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Watch reloads scenario documents as the graph editor writes them. Blocks
// until ctx is cancelled.
func (s *ScenarioStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create scenario watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("watch scenario dir %q: %w", s.dir, err)
	}
	s.log.Info().Str("dir", s.dir).Msg("watching scenario directory")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			switch {
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				if err := s.loadFile(event.Name); err != nil {
					s.log.Warn().Err(err).Str("file", event.Name).Msg("scenario reload failed")
				}
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				s.dropByPath(event.Name)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("scenario watcher error")
		}
	}
}

func (s *ScenarioStore) loadAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("read scenario dir %q: %w", s.dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		if err := s.loadFile(path); err != nil {
			s.log.Warn().Err(err).Str("file", path).Msg("skipping invalid scenario document")
		}
	}
	s.log.Info().Int("count", len(s.graphs)).Str("dir", s.dir).Msg("scenario store loaded")
	return nil
}

func (s *ScenarioStore) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read scenario file: %w", err)
	}

	valid, err := ParseScenario(data)
	if err != nil {
		return err
	}

	id := valid.Graph().ID
	s.mu.Lock()
	s.graphs[id] = valid
	s.mu.Unlock()
	s.log.Info().Str("scenario", id).Str("file", filepath.Base(path)).Msg("scenario loaded")
	return nil
}

func (s *ScenarioStore) dropByPath(path string) {
	base := strings.TrimSuffix(filepath.Base(path), ".json")

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, g := range s.graphs {
		// Scenario files are conventionally named <id>.json; fall back to a
		// full rescan only if that convention is broken.
		if id == base || g.Graph().ID == base {
			delete(s.graphs, id)
			s.log.Info().Str("scenario", id).Msg("scenario removed")
			return
		}
	}
}
