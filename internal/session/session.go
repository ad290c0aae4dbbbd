package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/audio"
	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/debounce"
	"github.com/lexiqai/scribe-gateway/internal/extraction"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/store"
	"github.com/lexiqai/scribe-gateway/internal/stt"
	"github.com/lexiqai/scribe-gateway/internal/transcript"
)

const (
	persistTimeout = 5 * time.Second

	// metric label for turns closed by the local voice detector
	eventLocalEndOfTurn = "local_end_of_turn"
)

// Options configures a Session
type Options struct {
	Config    *config.Config
	Language  string // en, ar or ar_en
	Transport Transport
	Sender    Sender

	// Optional collaborators. Defaults: no extraction, no persistence,
	// Deepgram recognizer.
	Extractor extraction.Extractor
	Store     store.Store
	NewClient ClientFactory

	Logger zerolog.Logger
}

// DeepgramClientFactory returns a ClientFactory for Deepgram live streams
func DeepgramClientFactory(cfg *config.Config, logger zerolog.Logger) ClientFactory {
	return func(opts stt.Options, sink transcript.EventSink) stt.STTClient {
		return stt.NewDeepgramClient(cfg, opts, sink, logger)
	}
}

// Session is one live transcription session. It is the recognizer's event
// sink: events are serialized under mu and fed to the accumulator, and each
// completed utterance is attributed, recorded and schedules a debounced
// form extraction.
type Session struct {
	cfg           *config.Config
	language      string
	transport     Transport
	sender        Sender
	extractor     extraction.Extractor
	store         store.Store
	newClient     ClientFactory
	quiet         time.Duration
	endTimeSource transcript.EndTimeSource
	logger        zerolog.Logger

	mu        sync.Mutex
	state     State
	acc       *transcript.Accumulator
	trigger   *debounce.Trigger
	client    stt.STTClient
	inputRate int
	history   []DiarizedUtterance
	roles     map[string]transcript.Role
	form      *extraction.FormData
	seq       int
	metrics   *observability.Metrics

	// Pending local end-of-speech fallback. Bumping localGen invalidates a
	// timer that already fired but has not taken mu yet.
	localTimer *time.Timer
	localGen   uint64

	// Messages produced under mu wait here and are sent once it is
	// released. sendMu keeps delivery in queue order.
	outbox []Message
	sendMu sync.Mutex

	persist sync.WaitGroup
}

var _ transcript.EventSink = (*Session)(nil)

// New creates an idle session
func New(opts Options) (*Session, error) {
	if _, err := stt.DeepgramLanguage(opts.Language); err != nil {
		return nil, err
	}
	if opts.Transport == "" {
		opts.Transport = TransportBrowser
	}
	if opts.Sender == nil {
		opts.Sender = SenderFunc(func(Message) error { return nil })
	}
	if opts.Extractor == nil {
		opts.Extractor = extraction.NopExtractor{}
	}
	if opts.Store == nil {
		opts.Store = store.NopStore{}
	}
	if opts.NewClient == nil {
		opts.NewClient = DeepgramClientFactory(opts.Config, opts.Logger)
	}

	id := uuid.New().String()
	return &Session{
		cfg:           opts.Config,
		language:      opts.Language,
		transport:     opts.Transport,
		sender:        opts.Sender,
		extractor:     opts.Extractor,
		store:         opts.Store,
		newClient:     opts.NewClient,
		quiet:         opts.Config.ExtractionQuietPeriod(),
		endTimeSource: transcript.ParseEndTimeSource(opts.Config.TurnEndTimeSource),
		logger:        opts.Logger.With().Str("session_id", id).Str("language", opts.Language).Logger(),
		state:         State{ID: id, Language: opts.Language},
		roles:         make(map[string]transcript.Role),
		form:          &extraction.FormData{},
		metrics:       observability.NewSessionMetrics(id, string(opts.Transport)),
	}, nil
}

// streamOptions builds the recognizer options for this session's transport
func (s *Session) streamOptions() (stt.Options, error) {
	language, err := stt.DeepgramLanguage(s.language)
	if err != nil {
		return stt.Options{}, err
	}
	keywords, err := stt.SessionKeywords(s.language, s.cfg.VocabularyFile)
	if err != nil {
		return stt.Options{}, err
	}
	if s.transport == TransportTwilio {
		return stt.TelephonyOptions(language, keywords), nil
	}
	return stt.BrowserOptions(language, s.cfg.AudioSampleRate, keywords), nil
}

// Start opens the recognizer stream and begins recording. ctx bounds the
// initial session write.
func (s *Session) Start(ctx context.Context, so StartOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	opts, err := s.streamOptions()
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.Recording {
		s.mu.Unlock()
		return ErrSessionAlreadyStarted
	}

	s.acc = transcript.NewAccumulator(transcript.Callbacks{
		OnLivePreview: s.onLivePreview,
		OnUtterance:   s.onUtterance,
		OnError:       s.onRecognizerError,
	}, s.endTimeSource)
	s.trigger = debounce.NewTrigger(s.onExtractionError)
	s.client = s.newClient(opts, s)
	s.inputRate = opts.SampleRate
	if so.SampleRate > 0 {
		s.inputRate = so.SampleRate
	}

	if err := s.client.Start(); err != nil {
		s.trigger.Stop()
		s.client = nil
		s.mu.Unlock()
		return fmt.Errorf("failed to start recognizer: %w", err)
	}

	s.state.Recording = true
	s.state.Paused = false
	s.state.StartedAt = time.Now()
	s.metrics = observability.NewSessionMetrics(s.state.ID, string(s.transport))
	s.metrics.RecordSessionStart()
	record := s.sessionRecordLocked(nil)
	state := s.state
	s.mu.Unlock()

	s.saveSession(ctx, record)

	diarization := s.cfg.DeepgramDiarize
	s.send(Message{
		Type:               MsgConnected,
		Language:           state.Language,
		SessionID:          state.ID,
		DiarizationEnabled: &diarization,
	})

	s.logger.Info().
		Str("transport", string(s.transport)).
		Int("input_sample_rate", s.inputRate).
		Msg("Session started")
	return nil
}

// SendAudio forwards an audio chunk to the recognizer. Audio is dropped
// while the session is paused or not recording.
func (s *Session) SendAudio(data []byte) error {
	s.mu.Lock()
	if !s.state.Recording || s.state.Paused || s.client == nil {
		s.mu.Unlock()
		return nil
	}
	client := s.client
	inputRate := s.inputRate
	metrics := s.metrics
	s.mu.Unlock()

	if s.transport == TransportBrowser && inputRate != s.cfg.AudioSampleRate {
		resampled, err := audio.ResamplePCM16(data, inputRate, s.cfg.AudioSampleRate)
		if err != nil {
			return fmt.Errorf("failed to resample audio: %w", err)
		}
		data = resampled
	}

	metrics.RecordAudioBytes(int64(len(data)))
	if err := client.SendAudio(data); err != nil {
		metrics.RecordError("stt_send_error", "deepgram")
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

// Pause stops forwarding audio until Resume
func (s *Session) Pause() error {
	s.mu.Lock()
	if !s.state.Recording {
		s.mu.Unlock()
		return ErrSessionNotStarted
	}
	s.state.Paused = true
	s.mu.Unlock()

	s.send(Message{Type: MsgPaused})
	return nil
}

// Resume forwards audio again after Pause
func (s *Session) Resume() error {
	s.mu.Lock()
	if !s.state.Recording {
		s.mu.Unlock()
		return ErrSessionNotStarted
	}
	s.state.Paused = false
	s.mu.Unlock()

	s.send(Message{Type: MsgResumed})
	return nil
}

// Stop ends recording. The recognizer is closed first so its last results
// still reach the accumulator, then the pending turn is flushed, the
// debounced extraction is cancelled and one final extraction runs over the
// whole transcript. Stop on an idle session does nothing.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.state.Recording {
		s.mu.Unlock()
		return nil
	}
	s.state.Recording = false
	s.state.Paused = false
	s.cancelLocalTurnLocked()
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if err := client.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing recognizer")
	}

	s.mu.Lock()
	s.acc.Close()
	trigger := s.trigger
	metrics := s.metrics
	s.mu.Unlock()
	s.flushOutbox()

	trigger.Stop()

	if err := s.extract(ctx); err != nil {
		s.onExtractionError(err)
	}

	s.mu.Lock()
	ended := time.Now()
	record := s.sessionRecordLocked(&ended)
	utterances := len(s.history)
	s.mu.Unlock()

	s.persist.Wait()
	s.saveSession(ctx, record)

	metrics.RecordSessionEnd()
	scheduled, runs := trigger.Stats()
	s.logger.Info().
		Int("utterances", utterances).
		Int64("extractions_scheduled", scheduled).
		Int64("extractions_run", runs).
		Msg("Session stopped")
	return nil
}

// Reset starts a fresh session id and clears the transcript, speaker roles
// and form. A running recognizer stream is kept, but its pending turn is
// discarded.
func (s *Session) Reset() {
	s.mu.Lock()
	id := uuid.New().String()
	s.state = State{
		ID:        id,
		Language:  s.language,
		Recording: s.state.Recording,
		Paused:    s.state.Paused,
	}
	if s.state.Recording {
		s.state.StartedAt = time.Now()
	}
	s.history = nil
	s.roles = make(map[string]transcript.Role)
	s.form = &extraction.FormData{}
	s.seq = 0
	s.cancelLocalTurnLocked()
	if s.acc != nil {
		s.acc.Reset()
	}
	recording := s.state.Recording
	record := s.sessionRecordLocked(nil)
	s.mu.Unlock()

	s.logger.Info().Str("new_session_id", id).Msg("Session reset")

	if recording {
		s.saveSession(context.Background(), record)
	}
}

// SetPatientName records the patient for the current session
func (s *Session) SetPatientName(name string) {
	s.mu.Lock()
	s.state.PatientName = name
	recording := s.state.Recording
	record := s.sessionRecordLocked(nil)
	s.mu.Unlock()

	if recording {
		s.persistAsync(func(ctx context.Context) error {
			return s.store.SaveSession(ctx, record)
		})
	}
}

// State returns a snapshot of the session state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// History returns the completed utterances in order
func (s *Session) History() []DiarizedUtterance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DiarizedUtterance(nil), s.history...)
}

// Transcript returns the full transcript, one utterance per space-joined
// segment
func (s *Session) Transcript() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptLocked()
}

// Form returns the latest extracted form
func (s *Session) Form() *extraction.FormData {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.form
}

func (s *Session) transcriptLocked() string {
	parts := make([]string, len(s.history))
	for i, u := range s.history {
		parts[i] = u.Text
	}
	return strings.Join(parts, " ")
}

func (s *Session) sessionRecordLocked(endedAt *time.Time) store.SessionRecord {
	return store.SessionRecord{
		ID:          s.state.ID,
		Language:    s.state.Language,
		Transport:   string(s.transport),
		PatientName: s.state.PatientName,
		StartedAt:   s.state.StartedAt,
		EndedAt:     endedAt,
	}
}

// OnPartial implements transcript.EventSink
func (s *Session) OnPartial(fragment transcript.UtteranceFragment) {
	s.mu.Lock()
	s.metrics.RecordTranscriptEvent(stt.EventPartial)
	if s.acc != nil {
		s.restartLocalTurnLocked()
		s.acc.OnPartial(fragment)
	}
	s.mu.Unlock()
	s.flushOutbox()
}

// OnFinal implements transcript.EventSink
func (s *Session) OnFinal(fragment transcript.UtteranceFragment) {
	s.mu.Lock()
	s.metrics.RecordTranscriptEvent(stt.EventFinal)
	if s.acc != nil {
		s.restartLocalTurnLocked()
		s.acc.OnFinal(fragment)
	}
	s.mu.Unlock()
	s.flushOutbox()
}

// OnEndOfTurn implements transcript.EventSink
func (s *Session) OnEndOfTurn(eot transcript.EndOfTurn) {
	s.mu.Lock()
	s.metrics.RecordTranscriptEvent(stt.EventEndOfTurn)
	if s.acc != nil {
		s.cancelLocalTurnLocked()
		s.acc.OnEndOfTurn(eot)
	}
	s.mu.Unlock()
	s.flushOutbox()
}

// OnError implements transcript.EventSink
func (s *Session) OnError(err error) {
	s.mu.Lock()
	if s.acc != nil {
		s.acc.OnError(err)
	}
	s.mu.Unlock()
	s.flushOutbox()
}

// OnLocalEndOfSpeech reports that a local voice detector heard the speaker
// stop. The turn is closed only if the recognizer then stays quiet for the
// configured grace period: a partial or final restarts the wait and a
// recognizer end of turn cancels it.
func (s *Session) OnLocalEndOfSpeech() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Recording || s.acc == nil {
		return
	}
	s.armLocalTurnLocked()
}

func (s *Session) armLocalTurnLocked() {
	s.cancelLocalTurnLocked()
	gen := s.localGen
	s.localTimer = time.AfterFunc(s.cfg.VADTurnGrace(), func() {
		s.localTurnExpired(gen)
	})
}

func (s *Session) restartLocalTurnLocked() {
	if s.localTimer != nil {
		s.armLocalTurnLocked()
	}
}

func (s *Session) cancelLocalTurnLocked() {
	s.localGen++
	if s.localTimer != nil {
		s.localTimer.Stop()
		s.localTimer = nil
	}
}

func (s *Session) localTurnExpired(gen uint64) {
	s.mu.Lock()
	if gen != s.localGen || !s.state.Recording || s.acc == nil {
		s.mu.Unlock()
		return
	}
	s.localTimer = nil
	s.metrics.RecordTranscriptEvent(eventLocalEndOfTurn)
	s.acc.OnEndOfTurn(transcript.EndOfTurn{})
	s.mu.Unlock()
	s.flushOutbox()
}

// onLivePreview runs under mu
func (s *Session) onLivePreview(text string) {
	s.queueLocked(Message{Type: MsgPartial, Text: text})
}

// onUtterance runs under mu
func (s *Session) onUtterance(u transcript.Utterance) {
	role := transcript.InferRole(u.Text, u.Speaker, s.roles)
	s.roles[u.Speaker] = role

	s.history = append(s.history, DiarizedUtterance{
		SpeakerID:   u.Speaker,
		SpeakerRole: role,
		Text:        u.Text,
		StartTime:   u.StartTime,
		EndTime:     u.EndTime,
	})
	s.seq++
	s.metrics.RecordUtterance(string(role), u.Duration())

	s.queueLocked(
		Message{
			Type:        MsgFinal,
			Text:        u.Text,
			Speaker:     u.Speaker,
			SpeakerRole: string(role),
			StartTime:   transcript.Float(u.StartTime),
			EndTime:     transcript.Float(u.EndTime),
		},
		Message{Type: MsgEndOfUtterance, EndTime: transcript.Float(u.EndTime)},
	)

	record := store.UtteranceRecord{
		SessionID: s.state.ID,
		Seq:       s.seq,
		Speaker:   u.Speaker,
		Role:      string(role),
		Text:      u.Text,
		StartTime: u.StartTime,
		EndTime:   u.EndTime,
		CreatedAt: time.Now(),
	}
	s.persistAsync(func(ctx context.Context) error {
		return s.store.SaveUtterance(ctx, record)
	})

	s.trigger.Schedule(s.extract, s.quiet)
	s.metrics.RecordDebounceScheduled()

	s.logger.Debug().
		Str("speaker", u.Speaker).
		Str("role", string(role)).
		Float64("duration", u.Duration()).
		Msg("Utterance completed")
}

// onRecognizerError runs under mu
func (s *Session) onRecognizerError(err error) {
	s.logger.Error().Err(err).Msg("Recognizer error")
	s.metrics.RecordError("stt_error", "deepgram")
	s.queueLocked(Message{Type: MsgError, Message: err.Error()})
}

func (s *Session) onExtractionError(err error) {
	s.logger.Error().Err(err).Msg("Extraction error")
	s.send(Message{Type: MsgError, Message: fmt.Sprintf("Extraction error: %v", err)})
}

// extract runs the extractor over the full transcript and publishes the
// form. A reset while the extractor runs discards the result.
func (s *Session) extract(ctx context.Context) error {
	s.mu.Lock()
	text := s.transcriptLocked()
	id := s.state.ID
	metrics := s.metrics
	s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return nil
	}

	metrics.RecordExtractionStart()
	form, err := s.extractor.Extract(ctx, text, s.language)
	metrics.RecordExtractionEnd(err == nil)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state.ID != id {
		s.mu.Unlock()
		return nil
	}
	s.form = form
	s.mu.Unlock()

	s.send(Message{Type: MsgFormUpdate, Data: form})
	s.persistAsync(func(ctx context.Context) error {
		return s.store.SaveForm(ctx, id, form)
	})
	return nil
}

// send delivers msg after anything already queued
func (s *Session) send(msg Message) {
	s.mu.Lock()
	s.queueLocked(msg)
	s.mu.Unlock()
	s.flushOutbox()
}

func (s *Session) queueLocked(msgs ...Message) {
	s.outbox = append(s.outbox, msgs...)
}

// flushOutbox sends queued messages. It must be called without mu held so
// a slow client never blocks the recognizer's event path.
func (s *Session) flushOutbox() {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	s.mu.Lock()
	msgs := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, msg := range msgs {
		if err := s.sender.Send(msg); err != nil {
			s.logger.Warn().Err(err).Str("type", msg.Type).Msg("Failed to send message")
		}
	}
}

// saveSession writes the session row before any utterance can reference it
func (s *Session) saveSession(ctx context.Context, record store.SessionRecord) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.store.SaveSession(ctx, record); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to persist session")
	}
}

// persistAsync runs a store write off the event path
func (s *Session) persistAsync(write func(ctx context.Context) error) {
	s.persist.Add(1)
	go func() {
		defer s.persist.Done()
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := write(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist session data")
		}
	}()
}
