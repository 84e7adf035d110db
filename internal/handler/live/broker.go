// Package live serves read-only session projections to the browser UI over
// WebSocket and SSE. The UI never mutates session state through these
// streams; commands go through the REST surface.
package live

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

// Broker fans the aggregator's single suggestion stream out to per-session
// subscribers. Suggestions are best-effort: a slow subscriber loses hints,
// never session progress.
type Broker struct {
	mu   sync.Mutex
	subs map[string]map[int]chan sessionmodel.Suggestion
	next int

	source <-chan sessionmodel.Suggestion
	log    zerolog.Logger
}

// NewBroker wires the broker to the aggregator's suggestion stream.
func NewBroker(source <-chan sessionmodel.Suggestion, log zerolog.Logger) *Broker {
	return &Broker{
		subs:   make(map[string]map[int]chan sessionmodel.Suggestion),
		source: source,
		log:    log.With().Str("component", "live").Logger(),
	}
}

// Run consumes the suggestion stream until ctx is cancelled.
func (b *Broker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case suggestion, ok := <-b.source:
			if !ok {
				return
			}
			b.mu.Lock()
			for _, ch := range b.subs[suggestion.SessionID] {
				select {
				case ch <- suggestion:
				default:
				}
			}
			b.mu.Unlock()
		}
	}
}

// Subscribe registers for one session's suggestions.
func (b *Broker) Subscribe(sessionID string) (<-chan sessionmodel.Suggestion, func()) {
	ch := make(chan sessionmodel.Suggestion, 8)

	b.mu.Lock()
	id := b.next
	b.next++
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[int]chan sessionmodel.Suggestion)
	}
	b.subs[sessionID][id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if m, ok := b.subs[sessionID]; ok {
			if _, ok := m[id]; ok {
				delete(m, id)
				close(ch)
			}
			if len(m) == 0 {
				delete(b.subs, sessionID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}
