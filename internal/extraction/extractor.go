package extraction

import (
	"context"
	"errors"
)

// ErrEmptyResponse is returned when the model produced no content
var ErrEmptyResponse = errors.New("extraction model returned an empty response")

// Extractor fills a form from a full session transcript
type Extractor interface {
	// Extract returns the form for transcript. A blank transcript yields
	// an empty form without calling any model.
	Extract(ctx context.Context, transcript, language string) (*FormData, error)
}

// NopExtractor is used when no extraction model is configured
type NopExtractor struct{}

// Extract always returns an empty form
func (NopExtractor) Extract(ctx context.Context, transcript, language string) (*FormData, error) {
	return &FormData{}, nil
}

// ExtractorFunc adapts a function to the Extractor interface
type ExtractorFunc func(ctx context.Context, transcript, language string) (*FormData, error)

// Extract calls f
func (f ExtractorFunc) Extract(ctx context.Context, transcript, language string) (*FormData, error) {
	return f(ctx, transcript, language)
}
