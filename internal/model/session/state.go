package session

import "time"

// Status is the lifecycle state of one training session run.
type Status string

const (
	StatusActive     Status = "active"
	StatusPaused     Status = "paused"
	StatusQuizActive Status = "quiz_active"
	StatusEnded      Status = "ended"
)

// Speaker identifies who produced a turn.
type Speaker string

const SpeakerTrainee Speaker = "trainee"

// AgentSpeaker labels a turn spoken by the agent bound to the given node.
func AgentSpeaker(nodeID string) Speaker {
	return Speaker("agent:" + nodeID)
}

// TurnRecord is one committed exchange unit. Records are append-only and
// immutable once finalized; the aggregator consumes them as the audit trail.
type TurnRecord struct {
	TurnIndex  int        `json:"turnIndex"`
	Speaker    Speaker    `json:"speaker"`
	NodeID     string     `json:"nodeId"`
	StartedAt  time.Time  `json:"startedAt"`
	EndedAt    *time.Time `json:"endedAt,omitempty"`
	Transcript string     `json:"transcript"`
	LatencyMS  int64      `json:"latencyMs,omitempty"`
	QuizAnswer string     `json:"quizAnswer,omitempty"`
}

// ActiveQuiz describes the quiz gate currently blocking advancement.
type ActiveQuiz struct {
	NodeID       string `json:"nodeId"`
	Question     string `json:"question,omitempty"`
	QuizIndex    int    `json:"quizIndex"`
	TotalQuizzes int    `json:"totalQuizzes"`
}

// State is the authoritative run-time state of one session. It is owned by
// the session manager and mutated only through the transition functions; the
// UI and the aggregator see read-only copies.
type State struct {
	SessionID     string       `json:"sessionId"`
	UserID        string       `json:"userId"`
	DisplayName   string       `json:"displayName,omitempty"`
	GraphRef      string       `json:"graphRef"`
	CurrentNodeID string       `json:"currentNodeId"`
	TurnIndex     int          `json:"turnIndex"`
	TotalTurns    int          `json:"totalTurns"`
	Status        Status       `json:"status"`
	EndReason     string       `json:"endReason,omitempty"`
	ActiveQuiz    *ActiveQuiz  `json:"activeQuiz,omitempty"`
	History       []TurnRecord `json:"history"`
	StartedAt     time.Time    `json:"startedAt"`
	EndedAt       *time.Time   `json:"endedAt,omitempty"`

	// PendingQuizAnswer holds the answer given to the active quiz gate until
	// the gate node's own turn commits and absorbs it.
	PendingQuizAnswer string `json:"-"`
}

// Clone returns a deep copy so transitions stay all-or-nothing and readers
// never alias the manager-owned state.
func (s State) Clone() State {
	out := s
	if s.ActiveQuiz != nil {
		quiz := *s.ActiveQuiz
		out.ActiveQuiz = &quiz
	}
	if s.EndedAt != nil {
		ended := *s.EndedAt
		out.EndedAt = &ended
	}
	out.History = make([]TurnRecord, len(s.History))
	copy(out.History, s.History)
	for i, rec := range s.History {
		if rec.EndedAt != nil {
			ended := *rec.EndedAt
			out.History[i].EndedAt = &ended
		}
	}
	return out
}
