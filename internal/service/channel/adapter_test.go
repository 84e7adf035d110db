package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type staticIssuer struct {
	cred Credential
	err  error

	mu     sync.Mutex
	issued int
}

func (s *staticIssuer) Issue(_ context.Context, _, _ string) (Credential, error) {
	s.mu.Lock()
	s.issued++
	s.mu.Unlock()
	if s.err != nil {
		return Credential{}, s.err
	}
	return s.cred, nil
}

// fakeConn scripts the frames a connection yields. When the script runs out,
// ReadJSON returns a read error so the channel enters its reconnect path.
type fakeConn struct {
	mu     sync.Mutex
	frames []Event
	writes []Chunk
	closed bool
}

func (f *fakeConn) ReadJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return errors.New("connection dropped")
	}
	ev := f.frames[0]
	f.frames = f.frames[1:]
	*(v.(*Event)) = ev
	return nil
}

func (f *fakeConn) WriteJSON(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch chunk := v.(type) {
	case Chunk:
		f.writes = append(f.writes, chunk)
	case *Chunk:
		f.writes = append(f.writes, *chunk)
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func testAdapter(t *testing.T, dial func(ctx context.Context, cred Credential, sessionID string) (wsConn, error)) *Adapter {
	t.Helper()
	cfg := DefaultConfig("wss://provider.test/stream", "")
	cfg.ReconnectBase = time.Millisecond
	a := NewAdapter(cfg, &staticIssuer{cred: Credential{Token: "tok"}}, zerolog.Nop())
	a.dial = dial
	return a
}

func collect(t *testing.T, events <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestOpenFailsWhenCredentialUnavailable(t *testing.T) {
	cfg := DefaultConfig("wss://provider.test/stream", "")
	a := NewAdapter(cfg, &staticIssuer{err: errors.New("issuer down")}, zerolog.Nop())

	if _, err := a.Open(context.Background(), "s1"); !errors.Is(err, ErrCredentialUnavailable) {
		t.Fatalf("err = %v, want ErrCredentialUnavailable", err)
	}
}

func TestChannelDiscardsStaleFrames(t *testing.T) {
	conn := &fakeConn{frames: []Event{
		{Kind: PartialTranscript, Seq: 1, Text: "hel"},
		{Kind: FinalTranscript, Seq: 3, Text: "hello there"},
		// Late partial arriving after the final it belongs to.
		{Kind: PartialTranscript, Seq: 2, Text: "hello th"},
		{Kind: SpeechEnded, Seq: 4},
	}}
	dials := 0
	a := testAdapter(t, func(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
		dials++
		if dials == 1 {
			return conn, nil
		}
		return nil, errors.New("no more connections")
	})

	ch, err := a.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := collect(t, ch.Events(), 3)
	if got[0].Seq != 1 || got[1].Seq != 3 || got[2].Seq != 4 {
		t.Fatalf("sequence order = %d,%d,%d, want 1,3,4 with seq 2 discarded", got[0].Seq, got[1].Seq, got[2].Seq)
	}
}

func TestChannelEmitsUnrecoverableAfterReconnectBudget(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	a := testAdapter(t, func(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials == 1 {
			// The initial connection drops immediately.
			return &fakeConn{}, nil
		}
		return nil, errors.New("provider unreachable")
	})

	ch, err := a.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := collect(t, ch.Events(), 1)
	if got[0].Kind != ProviderError || !errors.Is(got[0].Err, ErrUnrecoverable) {
		t.Fatalf("terminal event = %+v, want unrecoverable provider error", got[0])
	}

	// Initial dial plus exactly three reconnect attempts.
	mu.Lock()
	total := dials
	mu.Unlock()
	if total != 4 {
		t.Fatalf("dial attempts = %d, want 4 (1 open + 3 reconnects)", total)
	}

	// The stream closes after the terminal event.
	select {
	case _, ok := <-ch.Events():
		if ok {
			t.Fatal("received event after terminal unrecoverable")
		}
	case <-time.After(time.Second):
		t.Fatal("event stream did not close")
	}
}

func TestChannelReconnectsAndResetsSequence(t *testing.T) {
	var mu sync.Mutex
	dials := 0
	first := &fakeConn{frames: []Event{{Kind: FinalTranscript, Seq: 9, Text: "before drop"}}}
	a := testAdapter(t, func(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		switch dials {
		case 1:
			return first, nil
		case 2:
			// The new connection numbers frames from 1 again; they must not be
			// treated as stale.
			return &fakeConn{frames: []Event{{Kind: FinalTranscript, Seq: 1, Text: "after reconnect"}}}, nil
		default:
			return nil, errors.New("no more connections")
		}
	})

	ch, err := a.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := collect(t, ch.Events(), 2)
	if got[0].Text != "before drop" || got[1].Text != "after reconnect" {
		t.Fatalf("events = %q, %q", got[0].Text, got[1].Text)
	}

	// The dropped connection is released once its replacement is in place.
	if !first.isClosed() {
		t.Fatal("replaced connection was never closed")
	}
}

func TestChannelMapsRateLimitCode(t *testing.T) {
	conn := &fakeConn{frames: []Event{{Kind: ProviderError, Seq: 1, Code: "rate_limited"}}}
	a := testAdapter(t, func(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
		return conn, nil
	})

	ch, err := a.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	got := collect(t, ch.Events(), 1)
	if !errors.Is(got[0].Err, ErrRateLimited) {
		t.Fatalf("err = %v, want ErrRateLimited", got[0].Err)
	}
}

func TestSendStampsMonotonicSequence(t *testing.T) {
	conn := &fakeConn{}
	a := testAdapter(t, func(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
		return conn, nil
	})

	ch, err := a.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ch.Close()

	if err := ch.Send(Chunk{Kind: ChunkText, Text: "one"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := ch.Send(Chunk{Kind: ChunkText, Text: "two"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.writes) != 2 || conn.writes[0].Seq != 1 || conn.writes[1].Seq != 2 {
		t.Fatalf("writes = %+v, want seq 1 then 2", conn.writes)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	a := testAdapter(t, func(ctx context.Context, cred Credential, sessionID string) (wsConn, error) {
		return &fakeConn{}, nil
	})

	ch, err := a.Open(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	if err := ch.Send(Chunk{Kind: ChunkText, Text: "late"}); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("err = %v, want ErrChannelClosed", err)
	}
}
