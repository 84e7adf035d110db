package assist

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

type captureSink struct {
	saved chan sessionmodel.Report
}

func (s *captureSink) SaveReport(_ context.Context, report sessionmodel.Report) error {
	s.saved <- report
	return nil
}

func TestAggregatorEmitsSuggestionsForTraineeTurns(t *testing.T) {
	agg := New(nil, zerolog.Nop())

	prev := sessionmodel.State{SessionID: "s1", Status: sessionmodel.StatusActive}
	next := prev.Clone()
	next.History = []sessionmodel.TurnRecord{
		finalized(sessionmodel.SpeakerTrainee, base, 5*time.Second, "um so like, basically we have stuff", 1),
	}

	agg.OnTransition(prev, next)

	select {
	case suggestion := <-agg.Suggestions():
		if suggestion.SessionID != "s1" {
			t.Fatalf("suggestion session = %q, want s1", suggestion.SessionID)
		}
		if suggestion.Text == "" {
			t.Fatal("suggestion has no text")
		}
	case <-time.After(time.Second):
		t.Fatal("no suggestion emitted")
	}
}

func TestAggregatorSkipsAgentTurns(t *testing.T) {
	agg := New(nil, zerolog.Nop())

	prev := sessionmodel.State{SessionID: "s1", Status: sessionmodel.StatusActive}
	next := prev.Clone()
	next.History = []sessionmodel.TurnRecord{
		finalized(sessionmodel.AgentSpeaker("n1"), base, 5*time.Second, "scripted agent line", 1),
	}

	agg.OnTransition(prev, next)

	select {
	case suggestion := <-agg.Suggestions():
		t.Fatalf("unexpected suggestion for agent turn: %+v", suggestion)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAggregatorProcessesEachTurnOnce(t *testing.T) {
	agg := New(nil, zerolog.Nop())

	prev := sessionmodel.State{SessionID: "s1", Status: sessionmodel.StatusActive}
	next := prev.Clone()
	next.History = []sessionmodel.TurnRecord{
		finalized(sessionmodel.SpeakerTrainee, base, 5*time.Second, "hello there", 1),
	}

	agg.OnTransition(prev, next)
	// Replaying the same committed state (e.g. a pause transition) must not
	// double-count the turn.
	agg.OnTransition(next, next)

	received := 0
	for {
		select {
		case <-agg.Suggestions():
			received++
		case <-time.After(50 * time.Millisecond):
			if received != 1 {
				t.Fatalf("received %d suggestions, want 1", received)
			}
			return
		}
	}
}

func TestAggregatorFinalizesReportOnEnd(t *testing.T) {
	sink := &captureSink{saved: make(chan sessionmodel.Report, 1)}
	agg := New(sink, zerolog.Nop())

	active := sessionmodel.State{
		SessionID: "s1",
		UserID:    "u1",
		GraphRef:  "onboarding",
		Status:    sessionmodel.StatusActive,
		StartedAt: base,
		History: []sessionmodel.TurnRecord{
			finalized(sessionmodel.SpeakerTrainee, base, 6*time.Second, "i understand your concern", 1),
		},
	}
	agg.OnTransition(sessionmodel.State{SessionID: "s1", Status: sessionmodel.StatusActive}, active)

	endedAt := base.Add(time.Minute)
	ended := active.Clone()
	ended.Status = sessionmodel.StatusEnded
	ended.EndReason = "user-requested"
	ended.EndedAt = &endedAt

	agg.OnTransition(active, ended)

	select {
	case report := <-sink.saved:
		if report.SessionID != "s1" || report.EndReason != "user-requested" {
			t.Fatalf("report = %+v", report)
		}
		if !report.CreatedAt.Equal(endedAt) {
			t.Fatalf("report created at = %v, want %v", report.CreatedAt, endedAt)
		}
		if len(report.Scores) == 0 {
			t.Fatal("report has no scores")
		}
	case <-time.After(time.Second):
		t.Fatal("report never reached the sink")
	}

	// Duplicate end transitions do not produce a second report.
	agg.OnTransition(ended, ended)
	select {
	case report := <-sink.saved:
		t.Fatalf("duplicate report persisted: %+v", report)
	case <-time.After(50 * time.Millisecond):
	}
}
