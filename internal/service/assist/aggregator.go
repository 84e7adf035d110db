package assist

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/mesh-coach/backend/internal/analysis/signal"
	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

// ReportSink receives the finalized report for persistence. The core never
// reads reports back.
type ReportSink interface {
	SaveReport(ctx context.Context, report sessionmodel.Report) error
}

type accumulator struct {
	points    map[signal.Competency]int
	processed int
}

// Aggregator observes every committed transition, maintains per-session
// competency accumulators, emits best-effort live suggestions and finalizes
// the session report at termination. Accumulators are session-exclusive;
// cross-session rollups belong to the external analytics collaborator.
type Aggregator struct {
	mu       sync.Mutex
	sessions map[string]*accumulator

	suggestions chan sessionmodel.Suggestion
	sink        ReportSink
	log         zerolog.Logger
}

// New builds the aggregator. sink may be nil when report persistence is
// disabled (reports are then only pushed to subscribers).
func New(sink ReportSink, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		sessions:    make(map[string]*accumulator),
		suggestions: make(chan sessionmodel.Suggestion, 32),
		sink:        sink,
		log:         log.With().Str("component", "assist").Logger(),
	}
}

// Suggestions yields live coaching hints. Consumers that fall behind lose
// suggestions, never session progress.
func (a *Aggregator) Suggestions() <-chan sessionmodel.Suggestion {
	return a.suggestions
}

// OnTransition implements the session manager's observer hook. It runs
// synchronously after each committed transition, so everything here must be
// fast; report persistence is handed off to a goroutine.
func (a *Aggregator) OnTransition(prev, next sessionmodel.State) {
	a.mu.Lock()
	acc, ok := a.sessions[next.SessionID]
	if !ok {
		acc = &accumulator{points: make(map[signal.Competency]int)}
		a.sessions[next.SessionID] = acc
	}

	for _, rec := range finalizedRecords(next.History)[acc.processed:] {
		acc.processed++
		if rec.Speaker != sessionmodel.SpeakerTrainee {
			continue
		}
		scores := signal.ScoreTranscript(rec.Transcript)
		for _, sc := range scores {
			acc.points[sc.Competency] += sc.Points
		}
		a.maybeSuggest(next.SessionID, rec.TurnIndex, scores)
	}

	var report *sessionmodel.Report
	if next.Status == sessionmodel.StatusEnded && prev.Status != sessionmodel.StatusEnded {
		finalized := finalizeReport(next, acc.points)
		report = &finalized
		delete(a.sessions, next.SessionID)
	}
	a.mu.Unlock()

	if report != nil {
		a.persist(*report)
	}
}

// maybeSuggest emits a hint for the weakest competency of the turn. Dropped
// silently when the consumer is behind: suggestions are an enhancement, never
// required for session progress.
func (a *Aggregator) maybeSuggest(sessionID string, turnIndex int, scores []signal.Score) {
	weakest := scores[0]
	for _, sc := range scores[1:] {
		if sc.Points < weakest.Points {
			weakest = sc
		}
	}
	hint, ok := hints[weakest.Competency]
	if !ok {
		return
	}

	suggestion := sessionmodel.Suggestion{
		SessionID:  sessionID,
		TurnIndex:  turnIndex,
		Competency: string(weakest.Competency),
		Text:       hint,
		CreatedAt:  time.Now().UTC(),
	}
	select {
	case a.suggestions <- suggestion:
	default:
		a.log.Debug().Str("session", sessionID).Int("turn", turnIndex).Msg("suggestion dropped, consumer behind")
	}
}

func (a *Aggregator) persist(report sessionmodel.Report) {
	if a.sink == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.sink.SaveReport(ctx, report); err != nil {
			a.log.Error().Err(err).Str("session", report.SessionID).Msg("failed to persist session report")
			return
		}
		a.log.Info().Str("session", report.SessionID).Str("strength", report.TopStrength).Str("gap", report.PrimaryGap).Msg("session report persisted")
	}()
}

func finalizedRecords(history []sessionmodel.TurnRecord) []sessionmodel.TurnRecord {
	if n := len(history); n > 0 && history[n-1].EndedAt == nil {
		return history[:n-1]
	}
	return history
}

var hints = map[signal.Competency]string{
	signal.Empathy:    "Acknowledge the other side's feelings before moving to solutions.",
	signal.Clarity:    "Summarize your point in one sentence, then give an example.",
	signal.Confidence: "State your recommendation directly instead of hedging.",
	signal.Discovery:  "Ask an open question to learn more before responding.",
	signal.Composure:  "Slow down and drop the filler words.",
}
