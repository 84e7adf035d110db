package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrGraphRequired   = errors.New("validated graph is required")
)

// Observer is notified synchronously after each committed transition, never
// before. Implementations must not call back into the manager from the hook.
type Observer interface {
	OnTransition(prev, next sessionmodel.State)
}

// Transition mutates a cloned state and returns the replacement; returning an
// error leaves the stored state untouched.
type Transition func(state sessionmodel.State, graph *meshsvc.ValidGraph) (sessionmodel.State, error)

type managed struct {
	mu      sync.Mutex
	state   sessionmodel.State
	graph   *meshsvc.ValidGraph
	subs    map[int]chan sessionmodel.State
	nextSub int
}

// Manager owns the authoritative state of every active run. All mutation
// goes through Apply so transitions are serialized per session.
type Manager struct {
	mu        sync.RWMutex
	sessions  map[string]*managed
	observers []Observer
	log       zerolog.Logger
}

// NewManager bootstraps the in-memory session registry.
func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*managed),
		log:      log.With().Str("component", "session").Logger(),
	}
}

// AddObserver registers a transition observer. Must be called before any
// session is created.
func (m *Manager) AddObserver(obs Observer) {
	m.observers = append(m.observers, obs)
}

// Create provisions a new run over a validated graph and returns its initial
// state.
func (m *Manager) Create(_ context.Context, userID, displayName string, graph *meshsvc.ValidGraph, maxTurnsCap int) (sessionmodel.State, error) {
	if graph == nil {
		return sessionmodel.State{}, ErrGraphRequired
	}

	id := uuid.NewString()
	state := NewState(id, userID, displayName, graph, maxTurnsCap, time.Now().UTC())

	m.mu.Lock()
	m.sessions[id] = &managed{
		state: state,
		graph: graph,
		subs:  make(map[int]chan sessionmodel.State),
	}
	m.mu.Unlock()

	m.log.Info().Str("session", id).Str("graph", graph.Graph().ID).Str("user", userID).Msg("session created")
	return state.Clone(), nil
}

// Get returns a read-only copy of the session state.
func (m *Manager) Get(_ context.Context, sessionID string) (sessionmodel.State, error) {
	entry, err := m.lookup(sessionID)
	if err != nil {
		return sessionmodel.State{}, err
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.state.Clone(), nil
}

// Graph returns the validated graph the session runs over.
func (m *Manager) Graph(sessionID string) (*meshsvc.ValidGraph, error) {
	entry, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}
	return entry.graph, nil
}

// Apply runs a transition against the stored state. On success the new state
// is committed, observers are notified and subscribers receive a projection;
// on refusal the stored state is unchanged and the refusal error is returned
// with a copy of the current state.
func (m *Manager) Apply(sessionID string, fn Transition) (sessionmodel.State, error) {
	entry, err := m.lookup(sessionID)
	if err != nil {
		return sessionmodel.State{}, err
	}

	entry.mu.Lock()
	prev := entry.state.Clone()
	next, err := fn(entry.state.Clone(), entry.graph)
	if err != nil && !errors.Is(err, meshsvc.ErrGraphExhausted) {
		current := entry.state.Clone()
		entry.mu.Unlock()
		return current, err
	}
	entry.state = next
	committed := next.Clone()
	subs := make([]chan sessionmodel.State, 0, len(entry.subs))
	for _, ch := range entry.subs {
		subs = append(subs, ch)
	}
	entry.mu.Unlock()

	for _, obs := range m.observers {
		obs.OnTransition(prev, committed)
	}
	for _, ch := range subs {
		select {
		case ch <- committed.Clone():
		default:
			// Slow subscriber; the projection is best-effort and the next
			// committed state supersedes this one.
		}
	}
	return committed, err
}

// Subscribe returns a channel receiving every committed state after this
// call, plus a cancel function. The channel is a read-only projection: the
// UI must never write authoritative state through it.
func (m *Manager) Subscribe(sessionID string) (<-chan sessionmodel.State, func(), error) {
	entry, err := m.lookup(sessionID)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan sessionmodel.State, 8)

	entry.mu.Lock()
	id := entry.nextSub
	entry.nextSub++
	entry.subs[id] = ch
	entry.mu.Unlock()

	cancel := func() {
		entry.mu.Lock()
		if _, ok := entry.subs[id]; ok {
			delete(entry.subs, id)
			close(ch)
		}
		entry.mu.Unlock()
	}
	return ch, cancel, nil
}

// Remove drops a session from the registry once its runtime has fully shut
// down. History already left through the report sink.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	delete(m.sessions, sessionID)
	m.mu.Unlock()
}

func (m *Manager) lookup(sessionID string) (*managed, error) {
	m.mu.RLock()
	entry, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}
