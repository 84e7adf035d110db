package session

import (
	"errors"
	"time"

	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
)

// Refusal errors. These are expected control-flow signals: the transition is
// rejected, the caller keeps the prior state, and the state machine stays
// valid.
var (
	ErrSessionEnded      = errors.New("session already ended")
	ErrSessionPaused     = errors.New("session is paused")
	ErrQuizPending       = errors.New("quiz must be answered before advancing")
	ErrQuizNotActive     = errors.New("no quiz is active")
	ErrRestartNotAllowed = errors.New("turn restart not allowed")
	ErrPauseNotAllowed   = errors.New("pause not allowed during an active quiz")
	ErrNotActive         = errors.New("session is not active")
	ErrNotPaused         = errors.New("session is not paused")
)

// TurnInput carries the content of one completed turn. Timestamps come from
// the caller, never from the clock inside a transition, so replaying the same
// inputs yields an identical history.
type TurnInput struct {
	Speaker    sessionmodel.Speaker
	Transcript string
	StartedAt  time.Time
	EndedAt    time.Time
	LatencyMS  int64
}

// NewState initializes the authoritative state for a fresh run: Active at
// turn 1 on the graph's entry node.
func NewState(sessionID, userID, displayName string, graph *meshsvc.ValidGraph, maxTurnsCap int, startedAt time.Time) sessionmodel.State {
	return sessionmodel.State{
		SessionID:     sessionID,
		UserID:        userID,
		DisplayName:   displayName,
		GraphRef:      graph.Graph().ID,
		CurrentNodeID: graph.EntryID(),
		TurnIndex:     1,
		TotalTurns:    graph.EstimateTotalTurns(maxTurnsCap),
		Status:        sessionmodel.StatusActive,
		History:       nil,
		StartedAt:     startedAt,
	}
}

// BeginTurn appends an in-progress record for the current turn. The record
// has no end timestamp until AdvanceTurn finalizes it; RestartTurn may
// discard it.
func BeginTurn(state sessionmodel.State, speaker sessionmodel.Speaker, startedAt time.Time) (sessionmodel.State, error) {
	switch state.Status {
	case sessionmodel.StatusEnded:
		return state, ErrSessionEnded
	case sessionmodel.StatusPaused:
		return state, ErrSessionPaused
	case sessionmodel.StatusQuizActive:
		return state, ErrQuizPending
	}
	if rec := lastRecord(state); rec != nil && rec.EndedAt == nil {
		// A turn is already being captured; keep it.
		return state, nil
	}

	next := state.Clone()
	next.History = append(next.History, sessionmodel.TurnRecord{
		TurnIndex: next.TurnIndex,
		Speaker:   speaker,
		NodeID:    next.CurrentNodeID,
		StartedAt: startedAt,
	})
	return next, nil
}

// AdvanceTurn commits the current turn and moves the session to the next
// node. The returned state always reflects the committed record; when the
// graph has no next node the record is still committed and ErrGraphExhausted
// is returned alongside so the caller can end the session.
func AdvanceTurn(state sessionmodel.State, graph *meshsvc.ValidGraph, input TurnInput) (sessionmodel.State, error) {
	switch state.Status {
	case sessionmodel.StatusEnded:
		return state, ErrSessionEnded
	case sessionmodel.StatusPaused:
		return state, ErrSessionPaused
	case sessionmodel.StatusQuizActive:
		return state, ErrQuizPending
	}

	next := state.Clone()
	ended := input.EndedAt

	record := sessionmodel.TurnRecord{
		TurnIndex:  next.TurnIndex,
		Speaker:    input.Speaker,
		NodeID:     next.CurrentNodeID,
		StartedAt:  input.StartedAt,
		EndedAt:    &ended,
		Transcript: input.Transcript,
		LatencyMS:  input.LatencyMS,
	}

	if node, ok := graph.Graph().NodeByID(next.CurrentNodeID); ok && node.QuizGate {
		record.QuizAnswer = next.PendingQuizAnswer
		next.PendingQuizAnswer = ""
	}

	if rec := lastRecord(next); rec != nil && rec.EndedAt == nil && rec.TurnIndex == next.TurnIndex {
		// Finalize the in-progress record begun by BeginTurn; its start
		// timestamp is authoritative.
		record.StartedAt = rec.StartedAt
		next.History[len(next.History)-1] = record
	} else {
		next.History = append(next.History, record)
	}
	next.TurnIndex++

	nodeID, err := graph.ResolveNext(state.CurrentNodeID, input.Transcript)
	if err != nil {
		if errors.Is(err, meshsvc.ErrGraphExhausted) {
			return next, meshsvc.ErrGraphExhausted
		}
		return state, err
	}

	next.CurrentNodeID = nodeID
	if node, ok := graph.Graph().NodeByID(nodeID); ok && node.QuizGate {
		next.Status = sessionmodel.StatusQuizActive
		next.ActiveQuiz = &sessionmodel.ActiveQuiz{
			NodeID:       nodeID,
			Question:     node.QuizQuestion,
			QuizIndex:    quizVisits(&next, graph) + 1,
			TotalQuizzes: graph.CountQuizGates(),
		}
	} else {
		next.Status = sessionmodel.StatusActive
	}
	return next, nil
}

// AnswerQuiz resolves the active quiz gate and returns the session to normal
// advancement. The answer is attached to the gate node's turn record when
// that turn commits.
func AnswerQuiz(state sessionmodel.State, answer string) (sessionmodel.State, error) {
	if state.Status == sessionmodel.StatusEnded {
		return state, ErrSessionEnded
	}
	if state.Status != sessionmodel.StatusQuizActive || state.ActiveQuiz == nil {
		return state, ErrQuizNotActive
	}

	next := state.Clone()
	next.ActiveQuiz = nil
	next.Status = sessionmodel.StatusActive
	next.PendingQuizAnswer = answer
	return next, nil
}

// RestartTurn lets the trainee redo their most recent turn. With a live audio
// capture the in-progress record is discarded; in text-only runs, where no
// capture exists, the last committed trainee turn is rolled back instead and
// the session returns to that turn's node. Disallowed while a quiz is
// active, on the very first turn, and when the last committed turn belongs
// to an agent or resolved a quiz gate.
func RestartTurn(state sessionmodel.State) (sessionmodel.State, error) {
	if state.Status == sessionmodel.StatusEnded {
		return state, ErrSessionEnded
	}
	if state.Status == sessionmodel.StatusQuizActive {
		return state, ErrRestartNotAllowed
	}
	if state.TurnIndex == 1 {
		return state, ErrRestartNotAllowed
	}
	rec := lastRecord(state)
	if rec == nil {
		return state, ErrRestartNotAllowed
	}

	if rec.EndedAt == nil {
		next := state.Clone()
		next.History = next.History[:len(next.History)-1]
		return next, nil
	}

	// Committed-turn rollback: only the trainee's own turn, and never one
	// that already consumed a quiz answer.
	if rec.Speaker != sessionmodel.SpeakerTrainee || rec.QuizAnswer != "" {
		return state, ErrRestartNotAllowed
	}

	next := state.Clone()
	next.History = next.History[:len(next.History)-1]
	next.TurnIndex = rec.TurnIndex
	next.CurrentNodeID = rec.NodeID
	next.Status = sessionmodel.StatusActive
	return next, nil
}

// Pause suspends an active session.
func Pause(state sessionmodel.State) (sessionmodel.State, error) {
	switch state.Status {
	case sessionmodel.StatusEnded:
		return state, ErrSessionEnded
	case sessionmodel.StatusQuizActive:
		return state, ErrPauseNotAllowed
	case sessionmodel.StatusPaused:
		return state, ErrNotActive
	}

	next := state.Clone()
	next.Status = sessionmodel.StatusPaused
	return next, nil
}

// Resume reactivates a paused session.
func Resume(state sessionmodel.State) (sessionmodel.State, error) {
	if state.Status == sessionmodel.StatusEnded {
		return state, ErrSessionEnded
	}
	if state.Status != sessionmodel.StatusPaused {
		return state, ErrNotPaused
	}

	next := state.Clone()
	next.Status = sessionmodel.StatusActive
	return next, nil
}

// EndSession forces the terminal state from any non-terminal state. Calling
// it on an already ended session is a no-op, not an error, so duplicate end
// signals from the UI and network layers racing stay harmless.
func EndSession(state sessionmodel.State, reason string, at time.Time) (sessionmodel.State, error) {
	if state.Status == sessionmodel.StatusEnded {
		return state, nil
	}

	next := state.Clone()
	next.Status = sessionmodel.StatusEnded
	next.EndReason = reason
	next.ActiveQuiz = nil
	ended := at
	next.EndedAt = &ended
	return next, nil
}

func lastRecord(state sessionmodel.State) *sessionmodel.TurnRecord {
	if len(state.History) == 0 {
		return nil
	}
	return &state.History[len(state.History)-1]
}

// quizVisits counts committed turns that happened on quiz-gate nodes.
func quizVisits(state *sessionmodel.State, graph *meshsvc.ValidGraph) int {
	count := 0
	for _, rec := range state.History {
		if node, ok := graph.Graph().NodeByID(rec.NodeID); ok && node.QuizGate {
			count++
		}
	}
	return count
}
