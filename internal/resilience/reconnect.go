package resilience

import (
	"context"
	"fmt"
	"time"
)

// ReconnectConfig holds configuration for reconnection logic
type ReconnectConfig struct {
	MaxAttempts int
	Backoff     time.Duration
	Multiplier  float64
	MaxBackoff  time.Duration

	// OnFailure is called after every failed attempt that will be retried
	OnFailure func(attempt int, err error, wait time.Duration)
}

// DefaultReconnectConfig returns a default reconnection configuration
func DefaultReconnectConfig() *ReconnectConfig {
	return &ReconnectConfig{
		MaxAttempts: 5,
		Backoff:     1 * time.Second,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}
}

// ReconnectFunc is a function that attempts to reconnect
type ReconnectFunc func() error

// Reconnect calls fn until it succeeds, the attempts run out or ctx is
// done. It returns the number of attempts made alongside the error.
func Reconnect(ctx context.Context, fn ReconnectFunc, config *ReconnectConfig) (int, error) {
	if config == nil {
		config = DefaultReconnectConfig()
	}

	var lastErr error
	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		if lastErr = fn(); lastErr == nil {
			return attempt + 1, nil
		}
		if attempt == config.MaxAttempts-1 {
			break
		}

		wait := CalculateBackoff(attempt, config.Backoff, config.MaxBackoff, config.Multiplier)
		if config.OnFailure != nil {
			config.OnFailure(attempt+1, lastErr, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt + 1, ctx.Err()
		case <-timer.C:
		}
	}

	return config.MaxAttempts, fmt.Errorf("failed to reconnect after %d attempts: %w", config.MaxAttempts, lastErr)
}
