package extraction

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"github.com/rs/zerolog"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/observability"
	"github.com/lexiqai/scribe-gateway/internal/resilience"
)

const systemPrompt = `You are a medical transcription assistant. Extract structured medical form data from clinical conversations.

Return a JSON object with EXACTLY these field names (use snake_case):

{
  "physical_examination": "string or null - physical exam findings",
  "other_details": "string or null - additional clinical notes",
  "symptoms": ["array of strings"] or null,
  "action": "Follow-up|Referral|Admit|Discharge|Observation" or null,
  "review_after": "1 week|2 weeks|1 month|3 months|6 months" or null,
  "discharge_recommended": true/false or null,
  "vitals": {
    "blood_pressure": "string like 120/80" or null,
    "pulse": integer or null,
    "temperature": float or null,
    "respiratory_rate": integer or null,
    "spo2": integer or null,
    "rhythm": "string" or null
  } or null
}

Rules:
- Use EXACTLY the field names shown above (snake_case)
- Only extract EXPLICITLY mentioned information
- Return null for unmentioned fields
- For Arabic, translate terms to English`

const (
	extractionTemperature = 0.1
	extractionMaxTokens   = 1000
)

// completeFunc sends one system + user prompt pair and returns the reply
type completeFunc func(ctx context.Context, system, user string) (string, error)

// OpenAIExtractor extracts form data with an OpenAI chat model in JSON mode
type OpenAIExtractor struct {
	complete       completeFunc
	timeout        time.Duration
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

var _ Extractor = (*OpenAIExtractor)(nil)

// NewOpenAIExtractor creates an extractor backed by the OpenAI chat API
func NewOpenAIExtractor(cfg *config.Config, logger zerolog.Logger) *OpenAIExtractor {
	client := openai.NewClient(option.WithAPIKey(cfg.OpenAIAPIKey))
	model := cfg.OpenAIModel

	complete := func(ctx context.Context, system, user string) (string, error) {
		resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
			Model: openai.ChatModel(model),
			Messages: []openai.ChatCompletionMessageParamUnion{
				openai.SystemMessage(system),
				openai.UserMessage(user),
			},
			ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
			},
			Temperature: openai.Float(extractionTemperature),
			MaxTokens:   openai.Int(extractionMaxTokens),
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", ErrEmptyResponse
		}
		return resp.Choices[0].Message.Content, nil
	}

	return newOpenAIExtractor(cfg, complete, logger)
}

func newOpenAIExtractor(cfg *config.Config, complete completeFunc, logger zerolog.Logger) *OpenAIExtractor {
	return &OpenAIExtractor{
		complete: complete,
		timeout:  time.Duration(cfg.ExtractionTimeout) * time.Second,
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		circuitBreaker: resilience.NewCircuitBreaker(
			"openai",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: logger.With().Str("component", "extraction").Logger(),
	}
}

// Healthy reports whether the circuit breaker lets extraction calls through
func (e *OpenAIExtractor) Healthy() (bool, error) {
	state, requests, failures, _ := e.circuitBreaker.GetStats()
	if state == resilience.StateOpen {
		return false, fmt.Errorf("openai circuit open after %d failures in %d requests", failures, requests)
	}
	return true, nil
}

// userPrompt wraps the transcript for the model
func userPrompt(transcript, language string) string {
	lang := "English"
	if language == "ar" {
		lang = "Arabic"
	}
	return fmt.Sprintf(`Extract medical form data from this %s clinical transcript:

---
%s
---

Return a JSON object with the extracted information.`, lang, transcript)
}

// Extract fills the form from transcript
func (e *OpenAIExtractor) Extract(ctx context.Context, transcript, language string) (*FormData, error) {
	if strings.TrimSpace(transcript) == "" {
		e.logger.Debug().Msg("Empty transcript, returning empty form")
		return &FormData{}, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var content string
	err := e.circuitBreaker.Call(func() error {
		return resilience.RetryContext(ctx, func() error {
			reply, err := e.complete(ctx, systemPrompt, userPrompt(transcript, language))
			if err != nil {
				return err
			}
			content = reply
			return nil
		}, e.retryConfig, isRetryableOpenAIError)
	})

	observability.UpdateCircuitBreakerState("openai", int(e.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("openai")
		return nil, fmt.Errorf("form extraction failed: %w", err)
	}

	form, err := decodeForm(content)
	if err != nil {
		return nil, err
	}

	e.logger.Debug().
		Int("transcript_chars", len(transcript)).
		Int("symptoms", len(form.Symptoms)).
		Bool("vitals", form.Vitals != nil).
		Msg("Form extracted")
	return form, nil
}

// decodeForm parses a JSON model reply into a normalized form
func decodeForm(content string) (*FormData, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyResponse
	}
	var form FormData
	if err := sonic.UnmarshalString(content, &form); err != nil {
		return nil, fmt.Errorf("failed to decode extraction result: %w", err)
	}
	form.normalize()
	return &form, nil
}

// isRetryableOpenAIError retries rate limits, server errors and network failures
func isRetryableOpenAIError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= http.StatusInternalServerError
	}
	return resilience.IsRetryableNetworkError(err)
}
