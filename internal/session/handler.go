package session

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/extraction"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/store"
)

const (
	writeTimeout = 10 * time.Second
	stopTimeout  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The browser client is served from a different origin in development
		return true
	},
	ReadBufferSize:  8192,
	WriteBufferSize: 4096,
}

// Deps are the shared collaborators handed to every session
type Deps struct {
	Config    *config.Config
	Extractor extraction.Extractor
	Store     store.Store
	NewClient ClientFactory

	// Sessions, when set, tracks live sessions for graceful shutdown
	Sessions *Registry
}

// controlMessage is a JSON text frame from the browser
type controlMessage struct {
	Type       string  `json:"type"`
	Name       *string `json:"name,omitempty"`        // set_patient
	SampleRate int     `json:"sample_rate,omitempty"` // start
}

// wsSender serializes writes to one connection
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSender) Send(msg Message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s message: %w", msg.Type, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeTimeout))
}

// HandleBrowserWS serves GET /ws/{language}. Binary frames carry PCM16LE
// audio, text frames carry JSON control messages.
func HandleBrowserWS(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		language := r.PathValue("language")
		logger := observability.WithCorrelationID("").With().
			Str("transport", string(TransportBrowser)).
			Logger()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		sender := &wsSender{conn: conn}
		sess, err := New(Options{
			Config:    deps.Config,
			Language:  language,
			Transport: TransportBrowser,
			Sender:    sender,
			Extractor: deps.Extractor,
			Store:     deps.Store,
			NewClient: deps.NewClient,
			Logger:    logger,
		})
		if err != nil {
			logger.Warn().Str("language", language).Msg("Rejected unsupported language")
			_ = sender.Send(Message{
				Type:    MsgError,
				Message: fmt.Sprintf("Unsupported language: %s. Use 'en', 'ar', or 'ar_en' (bilingual).", language),
			})
			sender.close(websocket.ClosePolicyViolation, "unsupported language")
			return
		}

		release, err := deps.Sessions.Track(sess, func() {
			sender.close(websocket.CloseGoingAway, "server shutting down")
			_ = conn.Close()
		})
		if err != nil {
			_ = sender.Send(Message{Type: MsgError, Message: "Server is shutting down"})
			sender.close(websocket.CloseTryAgainLater, "server shutting down")
			return
		}
		defer release()

		logger.Info().Str("session_id", sess.State().ID).Str("language", language).Msg("Browser WebSocket connected")

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			if err := sess.Stop(ctx); err != nil {
				logger.Error().Err(err).Msg("Error stopping session")
			}
			logger.Info().Msg("Browser WebSocket closed")
		}()

		serveBrowser(r.Context(), conn, sess, sender, logger)
	}
}

func serveBrowser(ctx context.Context, conn *websocket.Conn, sess *Session, sender Sender, logger zerolog.Logger) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			if err := sess.SendAudio(data); err != nil {
				logger.Warn().Err(err).Msg("Failed to forward audio")
			}
		case websocket.TextMessage:
			handleControl(ctx, sess, sender, data, logger)
		}
	}
}

func handleControl(ctx context.Context, sess *Session, sender Sender, data []byte, logger zerolog.Logger) {
	var msg controlMessage
	if err := sonic.Unmarshal(data, &msg); err != nil {
		_ = sender.Send(Message{Type: MsgError, Message: "Invalid JSON message"})
		return
	}

	var err error
	switch msg.Type {
	case "start":
		err = sess.Start(ctx, StartOptions{SampleRate: msg.SampleRate})
	case "stop":
		err = sess.Stop(ctx)
	case "pause":
		err = sess.Pause()
	case "resume":
		err = sess.Resume()
	case "reset":
		sess.Reset()
		err = sender.Send(Message{Type: MsgResetComplete})
	case "set_patient":
		name := ""
		if msg.Name != nil {
			name = *msg.Name
		}
		sess.SetPatientName(name)
		err = sender.Send(Message{Type: MsgPatientSet, Name: &name})
	case "ping":
		err = sender.Send(Message{Type: MsgPong})
	default:
		logger.Debug().Str("type", msg.Type).Msg("Ignoring unknown control message")
		return
	}

	if err != nil {
		logger.Warn().Err(err).Str("type", msg.Type).Msg("Control message failed")
		_ = sender.Send(Message{Type: MsgError, Message: err.Error()})
	}
}
