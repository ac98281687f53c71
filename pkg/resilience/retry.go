// Package resilience implements the retry and circuit-breaker policies
// that the HTTP backend adapters wrap around each request.
package resilience

import (
	"context"
	"fmt"
	"time"

	backoffv5 "github.com/cenkalti/backoff/v5"

	"github.com/meridianrt/spine/pkg/spineerr"
)

// RetryConfig configures the exponential-backoff retry executor described
// in spec.md §4.1/§7: base 1s, factor 2, max 30s, 10% jitter, default 3
// attempts.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterFactor  float64
}

// DefaultRetryConfig returns the policy named in spec.md.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		JitterFactor:  0.10,
	}
}

// Retry executes fn, retrying only when the returned error is a kinded,
// retryable spineerr.Error (Network, Timeout, RateLimit). Authentication
// and Validation errors are returned immediately. The backoff schedule is
// generated by cenkalti/backoff/v5 so the jitter/growth math isn't
// hand-rolled a second time in this module.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	policy := backoffv5.NewExponentialBackOff()
	policy.InitialInterval = config.InitialDelay
	policy.MaxInterval = config.MaxDelay
	policy.Multiplier = config.BackoffFactor
	policy.RandomizationFactor = config.JitterFactor

	var lastErr error
	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !spineerr.IsRetryable(err) {
			return err
		}
		if attempt == config.MaxAttempts {
			break
		}

		delay := policy.NextBackOff()
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w", config.MaxAttempts, lastErr)
}

// WithCircuitBreaker wraps fn so it is only attempted while cb allows
// traffic, recording the outcome back into cb either way.
func WithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return spineerr.New(spineerr.KindSystem, "circuit_breaker", errCircuitOpen, map[string]interface{}{
				"breaker": cb.name,
			})
		}
		if err := fn(); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}

var errCircuitOpen = fmt.Errorf("circuit breaker open")
