package signal

import "testing"

func points(t *testing.T, scores []Score, c Competency) int {
	t.Helper()
	for _, s := range scores {
		if s.Competency == c {
			return s.Points
		}
	}
	t.Fatalf("competency %s missing from scores", c)
	return 0
}

func TestScoreTranscriptRewardsKeywords(t *testing.T) {
	scores := ScoreTranscript("I understand your concern. To summarize, I recommend the annual plan.")

	if got := points(t, scores, Empathy); got < 3 {
		t.Fatalf("empathy = %d, want at least 3", got)
	}
	if got := points(t, scores, Clarity); got < 3 {
		t.Fatalf("clarity = %d, want at least 3", got)
	}
	if got := points(t, scores, Confidence); got < 3 {
		t.Fatalf("confidence = %d, want at least 3", got)
	}
}

func TestScoreTranscriptCountsRepeats(t *testing.T) {
	once := points(t, ScoreTranscript("what happened?"), Discovery)
	twice := points(t, ScoreTranscript("what happened? what changed?"), Discovery)
	if twice <= once {
		t.Fatalf("repeat scoring: once = %d, twice = %d", once, twice)
	}
}

func TestScoreTranscriptPenalizesFillers(t *testing.T) {
	clean := points(t, ScoreTranscript("first we check the data"), Clarity)
	sloppy := points(t, ScoreTranscript("um first we um basically check the data"), Clarity)
	if sloppy >= clean {
		t.Fatalf("filler penalty missing: clean = %d, sloppy = %d", clean, sloppy)
	}
}

func TestScoreTranscriptFillersMatchWholeWords(t *testing.T) {
	// "summarize", "assume" and "number" all contain "um"; none of them is a
	// filler, so the clarity keyword bonus must survive intact.
	clean := points(t, ScoreTranscript("To summarize, I assume the number works for you."), Clarity)
	if clean < 3 {
		t.Fatalf("clarity = %d, want at least 3 without phantom filler penalty", clean)
	}

	// The same sentence with a real standalone filler gets docked.
	sloppy := points(t, ScoreTranscript("To summarize, um, I assume the number works for you."), Clarity)
	if sloppy >= clean {
		t.Fatalf("filler penalty missing: clean = %d, sloppy = %d", clean, sloppy)
	}
}

func TestScoreTranscriptIsPure(t *testing.T) {
	text := "I understand. What would you like to see first?"
	first := ScoreTranscript(text)
	second := ScoreTranscript(text)
	if len(first) != len(second) {
		t.Fatalf("score count changed between runs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("score %d changed between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestScoreTranscriptEmptyText(t *testing.T) {
	scores := ScoreTranscript("   ")
	if len(scores) != len(Competencies()) {
		t.Fatalf("score count = %d, want %d", len(scores), len(Competencies()))
	}
	for _, s := range scores {
		if s.Points != 0 {
			t.Fatalf("%s = %d for empty text, want 0", s.Competency, s.Points)
		}
	}
}

func TestWordCount(t *testing.T) {
	if got := WordCount("we offer a better plan"); got != 5 {
		t.Fatalf("WordCount = %d, want 5", got)
	}
	if got := WordCount("  "); got != 0 {
		t.Fatalf("WordCount of blank = %d, want 0", got)
	}
}
