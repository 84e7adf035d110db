package channel

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Config tunes the provider channel adapter.
type Config struct {
	WSURL         string
	SynthURL      string
	DialTimeout   time.Duration
	ReconnectBase time.Duration
	MaxReconnects int
	Scope         string
}

// DefaultConfig mirrors the documented retry policy: exponential backoff
// starting at 500ms, capped at 3 attempts.
func DefaultConfig(wsURL, synthURL string) Config {
	return Config{
		WSURL:         wsURL,
		SynthURL:      synthURL,
		DialTimeout:   15 * time.Second,
		ReconnectBase: 500 * time.Millisecond,
		MaxReconnects: 3,
		Scope:         "voice-session",
	}
}

// wsConn is the subset of *websocket.Conn the channel uses; tests substitute
// fakes through the adapter's dial hook.
type wsConn interface {
	ReadJSON(v any) error
	WriteJSON(v any) error
	Close() error
}

// Adapter brokers bidirectional audio/text streams to the voice-model
// provider. One channel per session; sessions never share a connection.
type Adapter struct {
	cfg    Config
	issuer Issuer
	client *http.Client
	log    zerolog.Logger

	// dial is replaceable in tests.
	dial func(ctx context.Context, cred Credential, sessionID string) (wsConn, error)
}

// NewAdapter builds the production adapter.
func NewAdapter(cfg Config, issuer Issuer, log zerolog.Logger) *Adapter {
	a := &Adapter{
		cfg:    cfg,
		issuer: issuer,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.With().Str("component", "channel").Logger(),
	}
	a.dial = a.dialProvider
	return a
}

func (a *Adapter) dialProvider(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: a.cfg.DialTimeout}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+cred.Token)
	header.Set("X-Session-Id", sessionID)
	header.Set("X-Connect-Id", uuid.NewString())

	conn, _, err := dialer.DialContext(ctx, a.cfg.WSURL, header)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionDropped, err)
	}
	return conn, nil
}

// Channel is one session's live stream to the provider. Events are consumed
// by exactly one reader; the scheduler serializes all state transitions off
// that stream.
type Channel struct {
	sessionID string
	adapter   *Adapter

	events chan Event
	done   chan struct{}

	mu        sync.Mutex
	conn      wsConn
	cred      Credential
	sendSeq   int64
	closed    atomic.Bool
	closeOnce sync.Once

	cancel context.CancelFunc
}

// Open acquires a session-scoped credential and establishes the provider
// stream. Credential failure aborts session start with
// ErrCredentialUnavailable.
func (a *Adapter) Open(ctx context.Context, sessionID string) (*Channel, error) {
	cred, err := a.issuer.Issue(ctx, sessionID, a.cfg.Scope)
	if err != nil {
		if errors.Is(err, ErrCredentialUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	conn, err := a.dial(ctx, cred, sessionID)
	if err != nil {
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	ch := &Channel{
		sessionID: sessionID,
		adapter:   a,
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
		conn:      conn,
		cred:      cred,
		cancel:    cancel,
	}
	go ch.readPump(pumpCtx)

	a.log.Info().Str("session", sessionID).Msg("provider channel opened")
	return ch, nil
}

// Events yields decoded provider events in arrival order with stale frames
// already discarded. The channel closes after the terminal unrecoverable
// event or Close.
func (c *Channel) Events() <-chan Event {
	return c.events
}

// Send writes one outbound frame. Safe for one writer at a time per the
// runtime's ownership model; the mutex still guards reconnect swaps.
func (c *Channel) Send(chunk Chunk) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrChannelClosed
	}
	c.sendSeq++
	chunk.Seq = c.sendSeq
	if err := c.conn.WriteJSON(chunk); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionDropped, err)
	}
	return nil
}

// Close cancels in-flight operations and releases the provider connection.
// Idempotent.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.mu.Lock()
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

// readPump decodes provider frames and applies the reconnect policy. It is
// the only reader of the underlying connection.
func (c *Channel) readPump(ctx context.Context) {
	defer close(c.events)

	lastSeq := int64(0)
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		var ev Event
		err := conn.ReadJSON(&ev)
		if err != nil {
			if ctx.Err() != nil || c.closed.Load() {
				return
			}
			if !c.reconnect(ctx) {
				c.emit(ctx, Event{Kind: ProviderError, Err: ErrUnrecoverable, Message: "reconnect budget exhausted"})
				return
			}
			// New transport stream: the provider numbers frames per
			// connection.
			lastSeq = 0
			continue
		}

		if ev.Seq != 0 && ev.Seq <= lastSeq {
			c.adapter.log.Debug().Str("session", c.sessionID).Int64("seq", ev.Seq).Int64("last", lastSeq).Msg("discarding stale provider event")
			continue
		}
		if ev.Seq > lastSeq {
			lastSeq = ev.Seq
		}

		if ev.Kind == ProviderError {
			switch ev.Code {
			case "rate_limited":
				ev.Err = ErrRateLimited
			case "credential_expired":
				if c.reissueAndReconnect(ctx) {
					lastSeq = 0
					continue
				}
				ev.Err = ErrUnrecoverable
			}
		}

		if !c.emit(ctx, ev) {
			return
		}
	}
}

func (c *Channel) emit(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-c.done:
		return false
	}
}

// reconnect retries the provider dial with exponential backoff. Returns false
// once the attempt budget is spent.
func (c *Channel) reconnect(ctx context.Context) bool {
	cfg := c.adapter.cfg
	for attempt := 0; attempt < cfg.MaxReconnects; attempt++ {
		delay := cfg.ReconnectBase << attempt
		select {
		case <-ctx.Done():
			return false
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		cred := c.currentCredential()
		if cred.Expired(time.Now()) {
			fresh, err := c.adapter.issuer.Issue(ctx, c.sessionID, cfg.Scope)
			if err != nil {
				c.adapter.log.Warn().Err(err).Str("session", c.sessionID).Msg("credential re-issue failed during reconnect")
				continue
			}
			cred = fresh
		}

		conn, err := c.adapter.dial(ctx, cred, c.sessionID)
		if err != nil {
			c.adapter.log.Warn().Err(err).Str("session", c.sessionID).Int("attempt", attempt+1).Msg("provider reconnect failed")
			continue
		}

		c.mu.Lock()
		old := c.conn
		c.conn = conn
		c.cred = cred
		c.mu.Unlock()
		if old != nil {
			_ = old.Close()
		}
		c.adapter.log.Info().Str("session", c.sessionID).Int("attempt", attempt+1).Msg("provider channel reconnected")
		return true
	}
	return false
}

// reissueAndReconnect handles a provider-reported credential expiry. The
// reconnect is transparent and replays no audio.
func (c *Channel) reissueAndReconnect(ctx context.Context) bool {
	fresh, err := c.adapter.issuer.Issue(ctx, c.sessionID, c.adapter.cfg.Scope)
	if err != nil {
		c.adapter.log.Error().Err(err).Str("session", c.sessionID).Msg("credential re-issue failed")
		return false
	}

	conn, err := c.adapter.dial(ctx, fresh, c.sessionID)
	if err != nil {
		return c.reconnect(ctx)
	}

	c.mu.Lock()
	old := c.conn
	c.conn = conn
	c.cred = fresh
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return true
}

func (c *Channel) currentCredential() Credential {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cred
}
