package session

import "github.com/zhouzirui/mesh-coach/backend/internal/service/channel"

// silentChannel stands in for the provider stream when the deployment runs
// without a voice provider. Turns then arrive only through the REST advance
// endpoint; agent output is dropped.
type silentChannel struct {
	events chan channel.Event
	done   chan struct{}
}

func newSilentChannel() *silentChannel {
	return &silentChannel{
		events: make(chan channel.Event),
		done:   make(chan struct{}),
	}
}

func (s *silentChannel) Events() <-chan channel.Event { return s.events }

func (s *silentChannel) Send(channel.Chunk) error { return nil }

func (s *silentChannel) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	return nil
}
