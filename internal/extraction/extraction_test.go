package extraction

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/scribe-gateway/internal/config"
	"github.com/lexiqai/scribe-gateway/internal/resilience"
)

func testConfig() *config.Config {
	return &config.Config{
		OpenAIModel:                "gpt-4o",
		ExtractionTimeout:          5,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        1,
		CircuitBreakerMaxFailures:  2,
		CircuitBreakerResetTimeout: 30,
	}
}

const modelReply = `{
	"physical_examination": "Chest clear on auscultation",
	"other_details": null,
	"symptoms": ["headache", "dizziness"],
	"action": "Follow-up",
	"review_after": "2 weeks",
	"discharge_recommended": true,
	"vitals": {
		"blood_pressure": "145 over 95",
		"pulse": 88,
		"temperature": 37.2,
		"respiratory_rate": null,
		"spo2": 97,
		"rhythm": "regular"
	}
}`

func TestNormalizeBloodPressure(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"145 over 95", "145/95"},
		{"145 OVER 95", "145/95"},
		{"120 / 80", "120/80"},
		{"120/80", "120/80"},
		{"130 على 85", "130/85"},
		{"130 על 85", "130/85"},
		{" 110over70 ", "110over70"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeBloodPressure(tt.in), tt.in)
	}
}

func TestDecodeForm(t *testing.T) {
	form, err := decodeForm(modelReply)
	require.NoError(t, err)

	require.NotNil(t, form.PhysicalExamination)
	assert.Equal(t, "Chest clear on auscultation", *form.PhysicalExamination)
	assert.Nil(t, form.OtherDetails)
	assert.Equal(t, []string{"headache", "dizziness"}, form.Symptoms)
	require.NotNil(t, form.DischargeRecommended)
	assert.True(t, *form.DischargeRecommended)

	require.NotNil(t, form.Vitals)
	require.NotNil(t, form.Vitals.BloodPressure)
	assert.Equal(t, "145/95", *form.Vitals.BloodPressure)
	require.NotNil(t, form.Vitals.Pulse)
	assert.Equal(t, 88, *form.Vitals.Pulse)
	assert.Nil(t, form.Vitals.RespiratoryRate)
	assert.False(t, form.IsEmpty())
}

func TestDecodeForm_Invalid(t *testing.T) {
	_, err := decodeForm("")
	assert.ErrorIs(t, err, ErrEmptyResponse)

	_, err = decodeForm("not json")
	assert.Error(t, err)
}

func TestFormData_IsEmpty(t *testing.T) {
	var nilForm *FormData
	assert.True(t, nilForm.IsEmpty())
	assert.True(t, (&FormData{}).IsEmpty())
	assert.False(t, (&FormData{Symptoms: []string{"cough"}}).IsEmpty())
}

func TestOpenAIExtractor_BlankTranscriptSkipsModel(t *testing.T) {
	var calls atomic.Int32
	e := newOpenAIExtractor(testConfig(), func(ctx context.Context, system, user string) (string, error) {
		calls.Add(1)
		return modelReply, nil
	}, zerolog.Nop())

	form, err := e.Extract(context.Background(), "   \n", "en")
	require.NoError(t, err)
	assert.True(t, form.IsEmpty())
	assert.Equal(t, int32(0), calls.Load())
}

func TestOpenAIExtractor_Extract(t *testing.T) {
	var gotSystem, gotUser string
	e := newOpenAIExtractor(testConfig(), func(ctx context.Context, system, user string) (string, error) {
		gotSystem, gotUser = system, user
		return modelReply, nil
	}, zerolog.Nop())

	form, err := e.Extract(context.Background(), "Your blood pressure is 145 over 95.", "ar")
	require.NoError(t, err)
	assert.Equal(t, "145/95", *form.Vitals.BloodPressure)

	assert.Contains(t, gotSystem, "physical_examination")
	assert.Contains(t, gotUser, "Arabic clinical transcript")
	assert.Contains(t, gotUser, "Your blood pressure is 145 over 95.")
}

func TestOpenAIExtractor_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int32
	e := newOpenAIExtractor(testConfig(), func(ctx context.Context, system, user string) (string, error) {
		if calls.Add(1) < 3 {
			return "", resilience.NewRetryableError(errors.New("rate limit"))
		}
		return modelReply, nil
	}, zerolog.Nop())

	form, err := e.Extract(context.Background(), "pulse is 88", "en")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 88, *form.Vitals.Pulse)
}

func TestOpenAIExtractor_DoesNotRetryPermanentErrors(t *testing.T) {
	var calls atomic.Int32
	e := newOpenAIExtractor(testConfig(), func(ctx context.Context, system, user string) (string, error) {
		calls.Add(1)
		return "", errors.New("invalid api key")
	}, zerolog.Nop())

	_, err := e.Extract(context.Background(), "pulse is 88", "en")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "form extraction failed"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestOpenAIExtractor_CircuitOpens(t *testing.T) {
	var calls atomic.Int32
	e := newOpenAIExtractor(testConfig(), func(ctx context.Context, system, user string) (string, error) {
		calls.Add(1)
		return "", errors.New("invalid api key")
	}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		_, err := e.Extract(context.Background(), "pulse is 88", "en")
		require.Error(t, err)
	}

	_, err := e.Extract(context.Background(), "pulse is 88", "en")
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), calls.Load())

	healthy, err := e.Healthy()
	assert.False(t, healthy)
	assert.Error(t, err)
}

func TestNopExtractor(t *testing.T) {
	form, err := NopExtractor{}.Extract(context.Background(), "anything", "en")
	require.NoError(t, err)
	assert.True(t, form.IsEmpty())
}

func TestExtractorFunc(t *testing.T) {
	var e Extractor = ExtractorFunc(func(ctx context.Context, transcript, language string) (*FormData, error) {
		return &FormData{Symptoms: []string{transcript}}, nil
	})
	form, err := e.Extract(context.Background(), "cough", "en")
	require.NoError(t, err)
	assert.Equal(t, []string{"cough"}, form.Symptoms)
}
