// Package session runs one live transcription session: it turns recognizer
// events into attributed utterances, keeps the running transcript and
// refreshes the extracted form after each quiet period.
package session

import (
	"errors"
	"time"

	"github.com/lexiqai/scribe-gateway/internal/extraction"
	"github.com/lexiqai/scribe-gateway/internal/stt"
	"github.com/lexiqai/scribe-gateway/internal/transcript"
)

var (
	// ErrSessionNotStarted is returned by operations that need a running stream
	ErrSessionNotStarted = errors.New("session not started")

	// ErrSessionAlreadyStarted is returned by Start on a recording session
	ErrSessionAlreadyStarted = errors.New("session already started")
)

// Transport identifies where a session's audio comes from
type Transport string

const (
	TransportBrowser Transport = "browser"
	TransportTwilio  Transport = "twilio"
)

// Outbound message types
const (
	MsgConnected      = "connected"
	MsgPartial        = "partial"
	MsgFinal          = "final"
	MsgEndOfUtterance = "end_of_utterance"
	MsgFormUpdate     = "form_update"
	MsgPaused         = "paused"
	MsgResumed        = "resumed"
	MsgResetComplete  = "reset_complete"
	MsgPatientSet     = "patient_set"
	MsgPong           = "pong"
	MsgError          = "error"
)

// Message is a JSON message sent to the client. Fields not used by a
// message type are omitted.
type Message struct {
	Type string `json:"type"`

	// partial, final
	Text        string   `json:"text,omitempty"`
	Speaker     string   `json:"speaker,omitempty"`
	SpeakerRole string   `json:"speaker_role,omitempty"`
	StartTime   *float64 `json:"start_time,omitempty"`
	EndTime     *float64 `json:"end_time,omitempty"`

	// connected
	Language           string `json:"language,omitempty"`
	SessionID          string `json:"session_id,omitempty"`
	DiarizationEnabled *bool  `json:"diarization_enabled,omitempty"`

	// patient_set
	Name *string `json:"name,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// form_update
	Data *extraction.FormData `json:"data,omitempty"`
}

// Sender delivers messages to the connected client. Implementations must be
// safe for concurrent use.
type Sender interface {
	Send(msg Message) error
}

// SenderFunc adapts a function to the Sender interface
type SenderFunc func(msg Message) error

// Send calls f
func (f SenderFunc) Send(msg Message) error {
	return f(msg)
}

// DiarizedUtterance is one completed turn with its inferred role
type DiarizedUtterance struct {
	SpeakerID   string          `json:"speaker_id"`
	SpeakerRole transcript.Role `json:"speaker_role"`
	Text        string          `json:"text"`
	StartTime   float64         `json:"start_time"`
	EndTime     float64         `json:"end_time"`
	IsPartial   bool            `json:"is_partial"`
}

// State is a snapshot of the session's lifecycle fields
type State struct {
	ID          string
	Language    string
	PatientName string
	StartedAt   time.Time
	Recording   bool
	Paused      bool
}

// ClientFactory builds the streaming recognizer for a session. The client
// must deliver its events to sink.
type ClientFactory func(opts stt.Options, sink transcript.EventSink) stt.STTClient

// StartOptions are supplied by the client when recording starts
type StartOptions struct {
	// SampleRate of incoming PCM16 audio; zero means the configured rate
	SampleRate int
}
