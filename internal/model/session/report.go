package session

import "time"

// Pacing summarizes delivery metrics computed from turn timestamps.
type Pacing struct {
	WordsPerMinute float64 `json:"wordsPerMinute"`
	PauseRatio     float64 `json:"pauseRatio"`
}

// Report is the multi-agent competency report produced once a session ends.
// It is immutable and handed to the external analytics collaborator.
type Report struct {
	SessionID   string         `json:"sessionId"`
	GraphRef    string         `json:"graphRef"`
	UserID      string         `json:"userId"`
	EndReason   string         `json:"endReason"`
	Scores      map[string]int `json:"scores"`
	TopStrength string         `json:"topStrength"`
	PrimaryGap  string         `json:"primaryGap"`
	Pacing      Pacing         `json:"pacing"`
	History     []TurnRecord   `json:"history"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Suggestion is a live, best-effort coaching hint surfaced during a turn.
// It is ephemeral: never part of the authoritative state, dismissible by the
// UI without telling the backend.
type Suggestion struct {
	SessionID  string    `json:"sessionId"`
	TurnIndex  int       `json:"turnIndex"`
	Competency string    `json:"competency"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}
