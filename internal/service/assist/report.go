package assist

import (
	"time"

	"github.com/zhouzirui/mesh-coach/backend/internal/analysis/signal"
	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

// finalizeReport derives the competency report from the full committed
// history and the running accumulators. The computation is deterministic:
// identical histories yield identical reports, down to the timestamp, which
// is taken from the session's end time rather than the wall clock.
func finalizeReport(state sessionmodel.State, points map[signal.Competency]int) sessionmodel.Report {
	scores := normalizeScores(points)

	topStrength, primaryGap := "", ""
	best, worst := -1, -1
	for _, competency := range signal.Competencies() {
		score := scores[string(competency)]
		if best < 0 || score > best {
			best = score
			topStrength = string(competency)
		}
		if worst < 0 || score < worst {
			worst = score
			primaryGap = string(competency)
		}
	}

	createdAt := state.StartedAt
	if state.EndedAt != nil {
		createdAt = *state.EndedAt
	}

	return sessionmodel.Report{
		SessionID:   state.SessionID,
		GraphRef:    state.GraphRef,
		UserID:      state.UserID,
		EndReason:   state.EndReason,
		Scores:      scores,
		TopStrength: topStrength,
		PrimaryGap:  primaryGap,
		Pacing:      computePacing(finalizedRecords(state.History)),
		History:     finalizedRecords(state.History),
		CreatedAt:   createdAt,
	}
}

// normalizeScores maps raw accumulator points onto a 0-100 scale relative to
// the strongest competency. Negative accumulations clamp to zero.
func normalizeScores(points map[signal.Competency]int) map[string]int {
	maxRaw := 0
	for _, competency := range signal.Competencies() {
		if raw := points[competency]; raw > maxRaw {
			maxRaw = raw
		}
	}

	scores := make(map[string]int, len(points))
	for _, competency := range signal.Competencies() {
		raw := points[competency]
		if raw < 0 {
			raw = 0
		}
		if maxRaw == 0 {
			scores[string(competency)] = 0
			continue
		}
		scores[string(competency)] = raw * 100 / maxRaw
	}
	return scores
}

// computePacing derives words-per-minute over trainee turns and the ratio of
// inter-turn silence to total session time.
func computePacing(history []sessionmodel.TurnRecord) sessionmodel.Pacing {
	var (
		words   int
		speech  time.Duration
		silence time.Duration
	)

	var prevEnd *time.Time
	for _, rec := range history {
		if rec.EndedAt == nil {
			continue
		}
		if prevEnd != nil && rec.StartedAt.After(*prevEnd) {
			silence += rec.StartedAt.Sub(*prevEnd)
		}
		end := *rec.EndedAt
		prevEnd = &end

		if rec.Speaker != sessionmodel.SpeakerTrainee {
			continue
		}
		words += signal.WordCount(rec.Transcript)
		speech += rec.EndedAt.Sub(rec.StartedAt)
	}

	pacing := sessionmodel.Pacing{}
	if seconds := speech.Seconds(); seconds > 0 {
		pacing.WordsPerMinute = float64(words) / seconds * 60
	}
	if len(history) > 0 && history[len(history)-1].EndedAt != nil {
		total := history[len(history)-1].EndedAt.Sub(history[0].StartedAt)
		if total > 0 {
			pacing.PauseRatio = silence.Seconds() / total.Seconds()
		}
	}
	return pacing
}
