package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the scribe gateway service
type Config struct {
	// Server configuration
	Port           string `envconfig:"PORT" default:"7860"`
	GRPCHealthPort string `envconfig:"GRPC_HEALTH_PORT" default:""` // Optional; gRPC health service is disabled when empty

	// Public base URL for this service, used only for logging the WebSocket endpoints
	PublicURL string `envconfig:"PUBLIC_URL" default:""`

	// Deepgram STT API configuration
	DeepgramAPIKey         string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel          string `envconfig:"DEEPGRAM_MODEL" default:"nova-2-medical"`
	DeepgramLanguage       string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	DeepgramDiarize        bool   `envconfig:"DEEPGRAM_DIARIZE" default:"true"`
	DeepgramUtteranceEndMs int    `envconfig:"DEEPGRAM_UTTERANCE_END_MS" default:"1000"` // Silence before an UtteranceEnd event
	DeepgramEndpointingMs  int    `envconfig:"DEEPGRAM_ENDPOINTING_MS" default:"700"`    // Silence before speech_final
	VocabularyFile         string `envconfig:"VOCABULARY_FILE" default:""`               // YAML file with extra vocabulary

	// Turn accumulation
	TurnEndTimeSource string `envconfig:"TURN_END_TIME_SOURCE" default:"explicit"` // explicit or fragment

	// Form extraction (OpenAI)
	OpenAIAPIKey            string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIModel             string `envconfig:"OPENAI_MODEL" default:"gpt-4o"`
	ExtractionQuietPeriodMs int    `envconfig:"EXTRACTION_QUIET_PERIOD_MS" default:"1500"` // Debounce window for extraction
	ExtractionTimeout       int    `envconfig:"EXTRACTION_TIMEOUT" default:"30"`           // seconds

	// Persistence (optional)
	DatabaseURL string `envconfig:"DATABASE_URL" default:""`

	// Audio processing configuration
	AudioSampleRate    int     `envconfig:"AUDIO_SAMPLE_RATE" default:"16000"`    // Sample rate sent to Deepgram for browser sessions
	AudioBufferSize    int     `envconfig:"AUDIO_BUFFER_SIZE" default:"8192"`     // Ring buffer size in bytes
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"50"`      // Frames of silence before a local end of speech
	VADTurnGraceMs     int     `envconfig:"VAD_TURN_GRACE_MS" default:"1500"`     // Recognizer silence after a local end of speech before the turn is closed

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	LogFile        string `envconfig:"LOG_FILE" default:""`            // Optional rotated log file
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values envconfig cannot express
func (c *Config) Validate() error {
	if c.DeepgramAPIKey == "" {
		return fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if c.TurnEndTimeSource != "explicit" && c.TurnEndTimeSource != "fragment" {
		return fmt.Errorf("TURN_END_TIME_SOURCE must be 'explicit' or 'fragment', got %q", c.TurnEndTimeSource)
	}
	if c.ExtractionQuietPeriodMs <= 0 {
		return fmt.Errorf("EXTRACTION_QUIET_PERIOD_MS must be positive, got %d", c.ExtractionQuietPeriodMs)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("AUDIO_SAMPLE_RATE must be positive, got %d", c.AudioSampleRate)
	}
	return nil
}

// ExtractionQuietPeriod returns the extraction debounce window
func (c *Config) ExtractionQuietPeriod() time.Duration {
	return time.Duration(c.ExtractionQuietPeriodMs) * time.Millisecond
}

// VADTurnGrace returns how long a local end of speech waits for the
// recognizer before closing the turn itself
func (c *Config) VADTurnGrace() time.Duration {
	return time.Duration(c.VADTurnGraceMs) * time.Millisecond
}

// ExtractionEnabled reports whether an OpenAI key was configured
func (c *Config) ExtractionEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
