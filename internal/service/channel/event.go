package channel

// EventKind enumerates the provider stream events the runtime consumes.
type EventKind string

const (
	PartialTranscript EventKind = "partial_transcript"
	FinalTranscript   EventKind = "final_transcript"
	SpeechStarted     EventKind = "speech_started"
	SpeechEnded       EventKind = "speech_ended"
	ProviderError     EventKind = "error"
)

// Event is one decoded provider frame. Seq increases monotonically per
// connection; the read pump discards stale frames so a late partial can never
// overwrite a final transcript already processed.
type Event struct {
	Kind       EventKind `json:"type"`
	Seq        int64     `json:"seq"`
	Text       string    `json:"text,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`

	// Err is set on synthetic events emitted by the adapter itself, such as
	// the terminal unrecoverable signal.
	Err error `json:"-"`
}

// ChunkKind distinguishes outbound frames.
type ChunkKind string

const (
	ChunkAudio ChunkKind = "audio"
	ChunkText  ChunkKind = "text"
)

// Chunk is one outbound audio or text frame sent to the provider.
type Chunk struct {
	Kind  ChunkKind `json:"type"`
	Seq   int64     `json:"seq"`
	Data  []byte    `json:"data,omitempty"`
	Text  string    `json:"text,omitempty"`
	Voice string    `json:"voice,omitempty"`
}
