package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
	sessionsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/session"
)

var ErrRuntimeNotFound = errors.New("session runtime not found")

// Service tracks the live runtime of every active session and supervises
// their loops.
type Service struct {
	mu       sync.Mutex
	runtimes map[string]*Runtime

	manager *sessionsvc.Manager
	cfg     Config
	log     zerolog.Logger
}

// NewService builds the runtime registry.
func NewService(manager *sessionsvc.Manager, cfg Config, log zerolog.Logger) *Service {
	return &Service{
		runtimes: make(map[string]*Runtime),
		manager:  manager,
		cfg:      cfg,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// Start launches the runtime loop for a freshly created session. The loop
// runs until the session ends; the registry entry is removed when it exits.
func (s *Service) Start(ctx context.Context, sessionID string, graph *meshsvc.ValidGraph, ch ProviderChannel, agents AgentGenerator, synth Synthesizer) *Runtime {
	rt := NewRuntime(sessionID, s.manager, graph, ch, agents, synth, s.cfg, s.log)

	s.mu.Lock()
	s.runtimes[sessionID] = rt
	s.mu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return rt.Run(groupCtx)
	})
	go func() {
		if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			s.log.Error().Err(err).Str("session", sessionID).Msg("session runtime exited with error")
		}
		s.mu.Lock()
		delete(s.runtimes, sessionID)
		s.mu.Unlock()
	}()

	return rt
}

// Get returns the live runtime for a session, if any.
func (s *Service) Get(sessionID string) (*Runtime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sessionID]
	if !ok {
		return nil, ErrRuntimeNotFound
	}
	return rt, nil
}
