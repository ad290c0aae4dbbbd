package transcript

// UnknownSpeaker is the label used when no speaker can be attributed
const UnknownSpeaker = "UNKNOWN"

// WordResult is a single recognized token
type WordResult struct {
	Text      string
	StartTime float64 // seconds
	EndTime   float64 // seconds

	// SpeakerLabel is empty when the recognizer supplied no speaker
	SpeakerLabel string
}

// UtteranceFragment is one incremental recognition result
type UtteranceFragment struct {
	Text      string
	StartTime float64
	EndTime   float64
	Words     []WordResult

	// Speaker is an optional fragment-level tag, only consulted when
	// none of the words carry a speaker label
	Speaker string
}

// Utterance is a completed conversational turn
type Utterance struct {
	Text      string  `json:"text"`
	Speaker   string  `json:"speaker"`
	StartTime float64 `json:"start_time"`
	EndTime   float64 `json:"end_time"`
	IsPartial bool    `json:"is_partial"`
}

// Duration returns the length of the turn in seconds
func (u Utterance) Duration() float64 {
	return u.EndTime - u.StartTime
}

// EndOfTurn is the end-of-turn signal. EndTime is nil for protocol
// variants that do not carry an explicit timestamp.
type EndOfTurn struct {
	EndTime *float64
}

// EventSink receives recognizer events. Implementations are injected into
// a streaming STT client which calls them from a single goroutine.
type EventSink interface {
	// OnPartial is called for tentative, revisable text
	OnPartial(fragment UtteranceFragment)

	// OnFinal is called for settled text
	OnFinal(fragment UtteranceFragment)

	// OnEndOfTurn is called when the recognizer detects the speaker finished
	OnEndOfTurn(eot EndOfTurn)

	// OnError is called when the recognizer reports a failure
	OnError(err error)
}

// EndTimeSource selects how the end time of an utterance is derived
type EndTimeSource int

const (
	// EndTimeExplicit uses the end-of-turn timestamp when one is supplied,
	// falling back to the last fragment's end time
	EndTimeExplicit EndTimeSource = iota

	// EndTimeFragment always uses the last fragment's end time
	EndTimeFragment
)

// ParseEndTimeSource maps a config value to an EndTimeSource.
// Unknown values map to EndTimeExplicit.
func ParseEndTimeSource(s string) EndTimeSource {
	if s == "fragment" {
		return EndTimeFragment
	}
	return EndTimeExplicit
}

// Float returns a pointer to v, handy for building EndOfTurn values
func Float(v float64) *float64 {
	return &v
}
