package stt

import (
	"errors"
	"fmt"
)

var (
	// ErrClientNotActive is returned when audio is sent before Start or after Stop
	ErrClientNotActive = errors.New("stt client is not active")

	// ErrClientAlreadyActive is returned by Start on a running client
	ErrClientAlreadyActive = errors.New("stt client is already active")

	// ErrUnsupportedLanguage is returned for a session language outside en, ar and ar_en
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// STTClient is the interface for streaming speech-to-text clients.
// Recognition events are delivered to the transcript.EventSink the client
// was built with.
type STTClient interface {
	// Start opens a new streaming session
	Start() error

	// SendAudio sends an audio chunk to the STT service
	SendAudio(audioData []byte) error

	// Stop finishes the streaming session
	Stop() error

	// Close stops the client and cancels any reconnection attempts
	Close() error

	// IsActive reports whether a stream is open
	IsActive() bool
}

// Audio encodings accepted by the recognizer
const (
	EncodingLinear16 = "linear16" // PCM16LE from the browser microphone
	EncodingMulaw    = "mulaw"    // G.711 PCMU from telephony
)

// Options describes one recognition stream
type Options struct {
	Language   string // Deepgram language code
	Encoding   string
	SampleRate int
	Channels   int
	Keywords   []string
}

// BrowserOptions returns stream options for 16-bit PCM browser audio
func BrowserOptions(language string, sampleRate int, keywords []string) Options {
	return Options{
		Language:   language,
		Encoding:   EncodingLinear16,
		SampleRate: sampleRate,
		Channels:   1,
		Keywords:   keywords,
	}
}

// TelephonyOptions returns stream options for 8 kHz mu-law call audio
func TelephonyOptions(language string, keywords []string) Options {
	return Options{
		Language:   language,
		Encoding:   EncodingMulaw,
		SampleRate: 8000,
		Channels:   1,
		Keywords:   keywords,
	}
}

// DeepgramLanguage maps a session language to the recognizer's language code.
// The bilingual Arabic and English mode uses multilingual recognition.
func DeepgramLanguage(language string) (string, error) {
	switch language {
	case "en", "ar":
		return language, nil
	case "ar_en":
		return "multi", nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedLanguage, language)
	}
}
