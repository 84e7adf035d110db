package assist

import (
	"math"
	"testing"
	"time"

	"github.com/zhouzirui/mesh-coach/backend/internal/analysis/signal"
	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

var base = time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

func finalized(speaker sessionmodel.Speaker, start time.Time, d time.Duration, transcript string, index int) sessionmodel.TurnRecord {
	end := start.Add(d)
	return sessionmodel.TurnRecord{
		TurnIndex:  index,
		Speaker:    speaker,
		StartedAt:  start,
		EndedAt:    &end,
		Transcript: transcript,
	}
}

func TestComputePacingWordsPerMinute(t *testing.T) {
	// 5 words over 6 seconds of speech is 50 words per minute.
	history := []sessionmodel.TurnRecord{
		finalized(sessionmodel.SpeakerTrainee, base, 6*time.Second, "we offer a better plan", 1),
	}
	pacing := computePacing(history)
	if math.Abs(pacing.WordsPerMinute-50) > 0.001 {
		t.Fatalf("words per minute = %v, want 50", pacing.WordsPerMinute)
	}
}

func TestComputePacingPauseRatio(t *testing.T) {
	// 10s turn, 10s gap, 10s turn: a third of the span is silence.
	history := []sessionmodel.TurnRecord{
		finalized(sessionmodel.SpeakerTrainee, base, 10*time.Second, "one two", 1),
		finalized(sessionmodel.SpeakerTrainee, base.Add(20*time.Second), 10*time.Second, "three four", 2),
	}
	pacing := computePacing(history)
	if math.Abs(pacing.PauseRatio-1.0/3.0) > 0.001 {
		t.Fatalf("pause ratio = %v, want 1/3", pacing.PauseRatio)
	}
}

func TestComputePacingIgnoresAgentSpeech(t *testing.T) {
	history := []sessionmodel.TurnRecord{
		finalized(sessionmodel.SpeakerTrainee, base, 6*time.Second, "we offer a better plan", 1),
		finalized(sessionmodel.AgentSpeaker("n2"), base.Add(6*time.Second), time.Minute, "a very long agent monologue goes here", 2),
	}
	pacing := computePacing(history)
	if math.Abs(pacing.WordsPerMinute-50) > 0.001 {
		t.Fatalf("words per minute = %v, want 50 (agent turns excluded)", pacing.WordsPerMinute)
	}
}

func TestComputePacingEmptyHistory(t *testing.T) {
	pacing := computePacing(nil)
	if pacing.WordsPerMinute != 0 || pacing.PauseRatio != 0 {
		t.Fatalf("pacing for empty history = %+v, want zeros", pacing)
	}
}

func TestNormalizeScores(t *testing.T) {
	scores := normalizeScores(map[signal.Competency]int{
		signal.Empathy:   12,
		signal.Clarity:   6,
		signal.Composure: -4,
	})
	if scores[string(signal.Empathy)] != 100 {
		t.Fatalf("empathy = %d, want 100", scores[string(signal.Empathy)])
	}
	if scores[string(signal.Clarity)] != 50 {
		t.Fatalf("clarity = %d, want 50", scores[string(signal.Clarity)])
	}
	if scores[string(signal.Composure)] != 0 {
		t.Fatalf("negative composure = %d, want clamped to 0", scores[string(signal.Composure)])
	}
	if scores[string(signal.Discovery)] != 0 {
		t.Fatalf("unscored discovery = %d, want 0", scores[string(signal.Discovery)])
	}
}

func TestNormalizeScoresAllZero(t *testing.T) {
	scores := normalizeScores(map[signal.Competency]int{})
	for _, competency := range signal.Competencies() {
		if scores[string(competency)] != 0 {
			t.Fatalf("%s = %d with no points, want 0", competency, scores[string(competency)])
		}
	}
}

func TestFinalizeReportIsDeterministic(t *testing.T) {
	endedAt := base.Add(10 * time.Minute)
	state := sessionmodel.State{
		SessionID: "s1",
		UserID:    "u1",
		GraphRef:  "onboarding",
		Status:    sessionmodel.StatusEnded,
		EndReason: "graph-complete",
		EndedAt:   &endedAt,
		StartedAt: base,
		History: []sessionmodel.TurnRecord{
			finalized(sessionmodel.SpeakerTrainee, base, 6*time.Second, "i understand your concern", 1),
		},
	}
	points := map[signal.Competency]int{signal.Empathy: 6, signal.Clarity: 3}

	first := finalizeReport(state, points)
	second := finalizeReport(state, points)

	if !first.CreatedAt.Equal(endedAt) {
		t.Fatalf("created at = %v, want the session end %v", first.CreatedAt, endedAt)
	}
	if first.TopStrength != string(signal.Empathy) {
		t.Fatalf("top strength = %q, want empathy", first.TopStrength)
	}
	if first.PrimaryGap == string(signal.Empathy) {
		t.Fatalf("primary gap = %q, must differ from the strength here", first.PrimaryGap)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) || first.TopStrength != second.TopStrength || first.PrimaryGap != second.PrimaryGap {
		t.Fatal("finalizing the same state twice diverged")
	}
}

func TestFinalizeReportExcludesUnfinalizedTail(t *testing.T) {
	endedAt := base.Add(time.Minute)
	state := sessionmodel.State{
		SessionID: "s1",
		Status:    sessionmodel.StatusEnded,
		EndedAt:   &endedAt,
		StartedAt: base,
		History: []sessionmodel.TurnRecord{
			finalized(sessionmodel.SpeakerTrainee, base, 6*time.Second, "hello", 1),
			{TurnIndex: 2, Speaker: sessionmodel.SpeakerTrainee, StartedAt: base.Add(30 * time.Second)},
		},
	}

	report := finalizeReport(state, map[signal.Competency]int{})
	if len(report.History) != 1 {
		t.Fatalf("report history length = %d, want 1 (in-progress tail dropped)", len(report.History))
	}
}
