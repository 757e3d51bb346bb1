package retry

import (
	"context"
	"fmt"
	"time"
)

// Strategy defines the interface for retry backoff strategies
type Strategy interface {
	// NextRetry calculates the delay before the given attempt (0-based)
	NextRetry(attempt int) time.Duration
}

// ExponentialBackoff implements exponential backoff
type ExponentialBackoff struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// NextRetry calculates the next retry delay using exponential backoff
func (s *ExponentialBackoff) NextRetry(attempt int) time.Duration {
	delay := float64(s.InitialDelay)
	for i := 0; i < attempt; i++ {
		delay *= s.Multiplier
	}

	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// transientMarker is implemented by errors worth retrying: network
// failures, timeouts and 5xx responses from collaborators.
type transientMarker interface {
	Transient() bool
}

type transientError struct {
	err error
}

func (e *transientError) Error() string   { return e.err.Error() }
func (e *transientError) Unwrap() error   { return e.err }
func (e *transientError) Transient() bool { return true }

// Transient marks an error as retryable.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether any error in the chain is marked retryable.
func IsTransient(err error) bool {
	for err != nil {
		if m, ok := err.(transientMarker); ok {
			return m.Transient()
		}
		err = unwrap(err)
	}
	return false
}

func unwrap(err error) error {
	u, ok := err.(interface{ Unwrap() error })
	if !ok {
		return nil
	}
	return u.Unwrap()
}

// Do runs fn up to maxAttempts times, backing off between attempts.
// Only transient errors are retried; permanent errors and context
// cancellation return immediately.
func Do(ctx context.Context, maxAttempts int, strategy Strategy, fn func(ctx context.Context) error) error {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			// Context expiry mid-retry is a timeout on a failing
			// collaborator, so it keeps the transient mark.
			return Transient(ctx.Err())
		case <-time.After(strategy.NextRetry(attempt)):
		}
	}

	return fmt.Errorf("giving up after %d attempts: %w", maxAttempts, err)
}
