package stt

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/resilience"
	"github.com/lexiqai/scribe-gateway/internal/transcript"
)

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the default handler and overrides the events that drive the
// transcript sink.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler // Embed default handler for methods we don't override
	sink                                   transcript.EventSink
	logger                                 zerolog.Logger
	errorHandler                           func(*msginterfaces.ErrorResponse) error
}

// Message routes Results messages to the sink
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	kind := dispatchMessage(m.sink, message)
	if kind != EventNone {
		m.logger.Debug().Str("event", kind).Msg("Deepgram transcript event")
	}
	return nil
}

// UtteranceEnd ends the current turn at the reported last word end
func (m *messageCallbackHandler) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	dispatchUtteranceEnd(m.sink, ur)
	m.logger.Debug().Msg("Deepgram utterance end")
	return nil
}

// SpeechStarted is informational only
func (m *messageCallbackHandler) SpeechStarted(ssr *msginterfaces.SpeechStartedResponse) error {
	m.logger.Debug().Msg("Deepgram speech started")
	return nil
}

// Error overrides the default handler to use our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.sink.OnError(fmt.Errorf("deepgram error: %+v", errorResponse))
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	// Fall back to default handler behavior
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements STTClient using Deepgram's streaming API
type DeepgramClient struct {
	config         *config.Config
	options        Options
	sink           transcript.EventSink
	client         *listenClient.WSCallback
	mu             sync.RWMutex
	isActive       bool
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

var _ STTClient = (*DeepgramClient)(nil)

// NewDeepgramClient creates a new Deepgram streaming client that delivers
// recognition events to sink
func NewDeepgramClient(cfg *config.Config, opts Options, sink transcript.EventSink, logger zerolog.Logger) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	// Create circuit breaker
	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	if opts.Language == "" {
		opts.Language = cfg.DeepgramLanguage
	}
	if opts.Channels == 0 {
		opts.Channels = 1
	}

	return &DeepgramClient{
		config:         cfg,
		options:        opts,
		sink:           sink,
		ctx:            ctx,
		cancel:         cancel,
		isActive:       false,
		circuitBreaker: circuitBreaker,
		logger:         logger.With().Str("component", "deepgram").Logger(),
	}
}

// liveOptions builds the Deepgram transcription options for this stream
func (d *DeepgramClient) liveOptions() *interfaces.LiveTranscriptionOptions {
	return &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.options.Language,
		Punctuate:      true,
		Diarize:        d.config.DeepgramDiarize,
		InterimResults: true,
		UtteranceEndMs: strconv.Itoa(d.config.DeepgramUtteranceEndMs), // string in v3
		Endpointing:    strconv.Itoa(d.config.DeepgramEndpointingMs),
		VadEvents:      true, // required for UtteranceEnd
		Encoding:       d.options.Encoding,
		Channels:       d.options.Channels,
		SampleRate:     d.options.SampleRate,
		Keywords:       d.options.Keywords,
	}
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return ErrClientAlreadyActive
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		sink:                   d.sink,
		logger:                 d.logger,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			d.logger.Error().Interface("error", errorResponse).Msg("Deepgram error")

			// Record failure in circuit breaker
			d.circuitBreaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			// Try to reconnect if not cancelled
			select {
			case <-d.ctx.Done():
				return nil
			default:
				// Connection lost, mark as inactive
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()

				// Attempt reconnection in background
				go d.attemptReconnect()
			}
			return nil
		},
	}

	// Create Deepgram WebSocket client using callback (v3 API)
	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		d.liveOptions(),
		callback,
	)
	if err != nil {
		d.circuitBreaker.RecordResult(false)
		observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	// WSCallback must be connected explicitly before audio is written
	if ok := client.Connect(); !ok {
		d.circuitBreaker.RecordResult(false)
		observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
		return fmt.Errorf("failed to connect to Deepgram")
	}

	d.client = client
	d.isActive = true

	// Record success in circuit breaker
	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.options.Language).
		Str("encoding", d.options.Encoding).
		Int("sample_rate", d.options.SampleRate).
		Int("keywords", len(d.options.Keywords)).
		Msg("Deepgram streaming client started")
	return nil
}

// SendAudio sends an audio chunk to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	// Use circuit breaker to protect the call
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return ErrClientNotActive
		}

		// WSCallback uses Write method for sending audio (returns bytes written and error)
		if _, err := client.Write(audioData); err != nil {
			// Attempt reconnection in background on error
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}

		return nil
	})

	// Update circuit breaker metrics
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}

	return err
}

// attemptReconnect attempts to reconnect to Deepgram
func (d *DeepgramClient) attemptReconnect() {
	// Check if already active or context cancelled
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()

	if alreadyActive {
		return // Already reconnected
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
		OnFailure: func(attempt int, err error, wait time.Duration) {
			d.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("backoff", wait).
				Msg("Deepgram reconnection attempt failed")
		},
	}

	attempts, err := resilience.Reconnect(d.ctx, func() error {
		err := d.Start()
		if err == ErrClientAlreadyActive {
			return nil
		}
		return err
	}, reconnectConfig)

	if err != nil {
		d.logger.Error().Err(err).Int("attempts", attempts).Msg("Failed to reconnect Deepgram client")
		d.sink.OnError(fmt.Errorf("deepgram reconnect failed: %w", err))
	} else {
		d.logger.Info().Int("attempts", attempts).Msg("Successfully reconnected Deepgram client")
	}
}

// Stop stops the Deepgram streaming session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil // Already stopped
	}

	// WSCallback Finish() doesn't return an error
	d.client.Finish()

	d.isActive = false
	d.logger.Info().Msg("Deepgram streaming client stopped")
	return nil
}

// Close closes the client and cancels reconnection attempts
func (d *DeepgramClient) Close() error {
	d.cancel()
	return d.Stop()
}

// IsActive returns whether the client is currently active
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
