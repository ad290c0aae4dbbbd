// Package telephony feeds Twilio Media Streams calls into transcription
// sessions.
package telephony

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/audio"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/session"
)

const stopTimeout = 60 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Twilio does not send an Origin header
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// TwilioMessage represents a message from Twilio Media Streams
type TwilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Media          *TwilioMedia `json:"media,omitempty"`
	Start          *TwilioStart `json:"start,omitempty"`
	Stop           *TwilioStop  `json:"stop,omitempty"`
}

// TwilioMedia represents the media payload in a media event
type TwilioMedia struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"` // base64 mu-law
}

// TwilioStart represents the start event payload
type TwilioStart struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// TwilioStop represents the stop event payload
type TwilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// SenderFactory builds the outbound message sink for one call. Twilio's
// stream cannot carry our JSON messages, so by default they are logged.
type SenderFactory func(callSid string, logger zerolog.Logger) session.Sender

// LogSender returns a Sender that logs transcript and form events
func LogSender(callSid string, logger zerolog.Logger) session.Sender {
	return session.SenderFunc(func(msg session.Message) error {
		switch msg.Type {
		case session.MsgFinal:
			logger.Info().
				Str("call_sid", callSid).
				Str("speaker", msg.Speaker).
				Str("role", msg.SpeakerRole).
				Str("text", msg.Text).
				Msg("Call utterance")
		case session.MsgFormUpdate:
			logger.Info().Str("call_sid", callSid).Interface("form", msg.Data).Msg("Call form updated")
		case session.MsgError:
			logger.Warn().Str("call_sid", callSid).Str("message", msg.Message).Msg("Call session error")
		}
		return nil
	})
}

// Handler accepts Twilio Media Streams connections
type Handler struct {
	deps      session.Deps
	newSender SenderFactory
}

// NewHandler creates a Twilio handler. A nil newSender uses LogSender.
func NewHandler(deps session.Deps, newSender SenderFactory) *Handler {
	if newSender == nil {
		newSender = LogSender
	}
	return &Handler{deps: deps, newSender: newSender}
}

// HandleTwilioWS is the entry point for Twilio WebSocket connections
func HandleTwilioWS(deps session.Deps) http.HandlerFunc {
	return NewHandler(deps, nil).ServeHTTP
}

// ServeHTTP upgrades the connection and runs the call until Twilio sends
// stop or the socket closes
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := observability.WithCorrelationID("").With().Str("transport", string(session.TransportTwilio)).Logger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	call := newCallSession(h, conn, logger)
	defer call.close()

	call.serve(r.Context())
}

// CallSession holds the state of a single phone call
type CallSession struct {
	handler *Handler
	conn    *websocket.Conn
	logger  zerolog.Logger

	mu        sync.Mutex
	callSid   string
	streamSid string
	sess      *session.Session
	release   func()

	// Media is re-sliced into 20 ms frames for the local VAD
	frames *audio.FrameBuffer
	vad    *audio.VADDetector
}

func newCallSession(h *Handler, conn *websocket.Conn, logger zerolog.Logger) *CallSession {
	cfg := h.deps.Config
	return &CallSession{
		handler: h,
		conn:    conn,
		logger:  logger,
		frames:  audio.NewFrameBuffer(cfg.AudioBufferSize),
		vad: audio.NewVADDetector(&audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
		}),
	}
}

func (c *CallSession) serve(ctx context.Context) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg TwilioMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Error().Err(err).Msg("Failed to parse Twilio message")
			continue
		}

		switch msg.Event {
		case "connected":
			c.logger.Info().Msg("Twilio stream connected")

		case "start":
			if err := c.start(ctx, msg); err != nil {
				c.logger.Error().Err(err).Msg("Failed to start call session")
				return
			}

		case "media":
			if msg.Media != nil {
				c.handleMedia(msg.Media)
			}

		case "stop":
			c.logger.Info().Str("call_sid", c.CallSid()).Msg("Call stopped")
			return

		case "mark", "dtmf":
			// nothing to transcribe

		default:
			c.logger.Debug().Str("event", msg.Event).Msg("Unknown Twilio event")
		}
	}
}

// start opens the transcription session. The session language comes from
// the "language" custom parameter, falling back to DEEPGRAM_LANGUAGE.
func (c *CallSession) start(ctx context.Context, msg TwilioMessage) error {
	if c.Session() != nil {
		c.logger.Warn().Msg("Ignoring repeated start event")
		return nil
	}

	cfg := c.handler.deps.Config
	language := cfg.DeepgramLanguage
	var callSid, patient string
	if msg.Start != nil {
		callSid = msg.Start.CallSid
		if lang := msg.Start.CustomParameters["language"]; lang != "" {
			language = lang
		}
		patient = msg.Start.CustomParameters["patient_name"]
	}

	logger := c.logger.With().Str("call_sid", callSid).Logger()
	sess, err := session.New(session.Options{
		Config:    cfg,
		Language:  language,
		Transport: session.TransportTwilio,
		Sender:    c.handler.newSender(callSid, logger),
		Extractor: c.handler.deps.Extractor,
		Store:     c.handler.deps.Store,
		NewClient: c.handler.deps.NewClient,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	release, err := c.handler.deps.Sessions.Track(sess, func() { _ = c.conn.Close() })
	if err != nil {
		return err
	}
	if err := sess.Start(ctx, session.StartOptions{}); err != nil {
		release()
		return err
	}
	if patient != "" {
		sess.SetPatientName(patient)
	}

	c.mu.Lock()
	c.callSid = callSid
	c.streamSid = msg.StreamSid
	c.sess = sess
	c.release = release
	c.logger = logger
	c.mu.Unlock()

	logger.Info().
		Str("stream_sid", msg.StreamSid).
		Str("language", language).
		Str("session_id", sess.State().ID).
		Msg("Call started")
	return nil
}

// handleMedia forwards call audio to the recognizer and runs the local VAD.
// A local end of speech arms the session's end-of-turn fallback, which only
// closes the turn if the recognizer stays quiet.
func (c *CallSession) handleMedia(media *TwilioMedia) {
	if media.Track != "" && media.Track != "inbound" {
		return
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	chunk := media.Payload
	if chunk == "" {
		chunk = media.Chunk
	}
	data, err := base64.StdEncoding.DecodeString(chunk)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode base64 audio")
		return
	}

	if err := sess.SendAudio(data); err != nil {
		c.logger.Warn().Err(err).Msg("Failed to forward call audio")
	}

	if n := c.frames.Write(data); n < len(data) {
		c.logger.Warn().Int("dropped", len(data)-n).Msg("VAD frame buffer full")
	}
	for {
		frame, ok := c.frames.ReadFrame(audio.TelephonyFrameBytes)
		if !ok {
			break
		}
		if c.vad.ProcessPCMU(frame).Ended {
			sess.OnLocalEndOfSpeech()
		}
	}
}

// close stops the session, running the final extraction
func (c *CallSession) close() {
	c.mu.Lock()
	sess := c.sess
	release := c.release
	c.mu.Unlock()
	if sess == nil {
		return
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := sess.Stop(ctx); err != nil {
		c.logger.Error().Err(err).Msg("Error stopping call session")
	}
}

// CallSid returns the Twilio call SID once the stream has started
func (c *CallSession) CallSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSid
}

// Session returns the call's transcription session, nil before start
func (c *CallSession) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}
