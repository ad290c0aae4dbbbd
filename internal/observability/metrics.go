package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribe_gateway_active_sessions",
		Help: "Number of active transcription sessions",
	}, []string{"transport"}) // transport: "browser" or "twilio"

	totalSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_sessions_total",
		Help: "Total number of transcription sessions",
	}, []string{"transport"})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_session_duration_seconds",
		Help:    "Duration of transcription sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 600, 1200, 1800, 3600},
	})

	// Transcript metrics
	transcriptEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_transcript_events_total",
		Help: "Recognizer events received by kind",
	}, []string{"kind"}) // kind: "partial", "final", "end_of_turn"

	utterancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_utterances_total",
		Help: "Completed utterances by inferred speaker role",
	}, []string{"role"})

	utteranceDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_utterance_duration_seconds",
		Help:    "Duration of completed utterances in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
	})

	// Extraction metrics
	extractionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_extraction_requests_total",
		Help: "Total number of form extraction requests",
	}, []string{"status"})

	extractionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "scribe_gateway_extraction_latency_seconds",
		Help:    "Form extraction latency in seconds",
		Buckets: []float64{0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	})

	debounceScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scribe_gateway_debounce_scheduled_total",
		Help: "Downstream actions scheduled through the debounce trigger",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "scribe_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_gateway_audio_bytes_total",
		Help: "Total audio bytes forwarded to the recognizer",
	}, []string{"transport"})
)

// Metrics tracks metrics for a single transcription session
type Metrics struct {
	sessionID string
	transport string
	startTime time.Time

	mu              sync.Mutex
	extractionStart time.Time
	ended           bool
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID, transport string) *Metrics {
	return &Metrics{
		sessionID: sessionID,
		transport: transport,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *Metrics) RecordSessionStart() {
	activeSessions.WithLabelValues(m.transport).Inc()
	totalSessions.WithLabelValues(m.transport).Inc()
}

// RecordSessionEnd records the end of a session. Only the first call counts.
func (m *Metrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return
	}
	m.ended = true

	activeSessions.WithLabelValues(m.transport).Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordTranscriptEvent counts a recognizer event of the given kind
func (m *Metrics) RecordTranscriptEvent(kind string) {
	transcriptEvents.WithLabelValues(kind).Inc()
}

// RecordUtterance records a completed utterance
func (m *Metrics) RecordUtterance(role string, durationSeconds float64) {
	utterancesTotal.WithLabelValues(role).Inc()
	if durationSeconds > 0 {
		utteranceDuration.Observe(durationSeconds)
	}
}

// RecordDebounceScheduled counts a schedule call on the extraction trigger
func (m *Metrics) RecordDebounceScheduled() {
	debounceScheduled.Inc()
}

// RecordExtractionStart records the start of a form extraction
func (m *Metrics) RecordExtractionStart() {
	m.mu.Lock()
	m.extractionStart = time.Now()
	m.mu.Unlock()
}

// RecordExtractionEnd records the end of a form extraction
func (m *Metrics) RecordExtractionEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.extractionStart.IsZero() {
		extractionLatency.Observe(time.Since(m.extractionStart).Seconds())
	}

	status := "success"
	if !success {
		status = "error"
	}
	extractionRequests.WithLabelValues(status).Inc()
}

// RecordError records an error
func (m *Metrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes forwarded to the recognizer
func (m *Metrics) RecordAudioBytes(bytes int64) {
	audioBytesProcessed.WithLabelValues(m.transport).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
