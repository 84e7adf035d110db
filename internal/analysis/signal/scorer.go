package signal

import "strings"

// Competency names the skills the runtime scores a trainee on.
type Competency string

const (
	Empathy    Competency = "empathy"
	Clarity    Competency = "clarity"
	Confidence Competency = "confidence"
	Discovery  Competency = "discovery"
	Composure  Competency = "composure"
)

// Competencies lists every scored competency in a stable order.
func Competencies() []Competency {
	return []Competency{Empathy, Clarity, Confidence, Discovery, Composure}
}

// Score is the per-turn signal for one competency.
type Score struct {
	Competency Competency
	Points     int
}

var keywordBuckets = map[Competency][]string{
	Empathy: {
		"i understand", "i hear you", "that sounds", "i can see why", "your concern",
		"i appreciate", "thank you for sharing", "makes sense", "i'm sorry", "completely",
		"frustrating", "that must be",
	},
	Clarity: {
		"to summarize", "in other words", "let me explain", "specifically", "for example",
		"the next step", "first", "second", "finally", "which means", "to be clear",
	},
	Confidence: {
		"i recommend", "i'm confident", "we will", "absolutely", "certainly",
		"our experience shows", "i can assure", "definitely", "guarantee", "proven",
	},
	Discovery: {
		"what", "how", "why", "tell me more", "could you describe", "help me understand",
		"when did", "who else", "walk me through", "?",
	},
	Composure: {
		"let's take a step back", "no problem", "take your time", "happy to", "of course",
		"let me check", "good question", "fair point", "understood",
	},
}

// Single-word fillers are matched per token so they cannot fire inside words
// like "summarize" or "number"; the hedge phrases keep substring matching.
var (
	fillerWords   = []string{"um", "uh", "basically"}
	fillerPhrases = []string{"like,", "you know", "kind of", "sort of"}
)

// ScoreTranscript scores one turn transcript against every competency bucket.
// The scoring is a pure function of the text so session replays aggregate
// identically.
func ScoreTranscript(text string) []Score {
	normalized := strings.ToLower(strings.TrimSpace(text))
	scores := make([]Score, 0, len(keywordBuckets))
	for _, competency := range Competencies() {
		points := 0
		for _, phrase := range keywordBuckets[competency] {
			points += strings.Count(normalized, phrase) * 3
		}
		scores = append(scores, Score{Competency: competency, Points: points})
	}

	if normalized == "" {
		return scores
	}

	// Filler-heavy turns drag clarity and composure down.
	fillers := 0
	for _, token := range strings.Fields(normalized) {
		token = strings.Trim(token, ".,!?;:\"'")
		for _, filler := range fillerWords {
			if token == filler {
				fillers++
			}
		}
	}
	for _, phrase := range fillerPhrases {
		fillers += strings.Count(normalized, phrase)
	}
	if fillers > 0 {
		for i := range scores {
			if scores[i].Competency == Clarity || scores[i].Competency == Composure {
				scores[i].Points -= fillers * 2
			}
		}
	}
	return scores
}

// WordCount counts whitespace-separated words the way pacing metrics expect.
func WordCount(text string) int {
	return len(strings.Fields(text))
}
