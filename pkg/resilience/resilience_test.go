package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrt/spine/pkg/spineerr"
)

func TestRetrySucceedsWithinAttempts(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2, JitterFactor: 0}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 2 {
			return spineerr.New(spineerr.KindNetwork, "dial", errors.New("refused"), nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2, JitterFactor: 0}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return spineerr.New(spineerr.KindAuthentication, "auth", errors.New("bad key"), nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	cfg := &RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, BackoffFactor: 2, JitterFactor: 0}

	err := Retry(context.Background(), cfg, func() error {
		calls++
		return spineerr.New(spineerr.KindTimeout, "call", errors.New("deadline"), nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, 50*time.Millisecond)

	assert.True(t, cb.CanExecute())
	cb.RecordFailure()
	assert.True(t, cb.CanExecute())
	cb.RecordFailure()

	assert.Equal(t, StateOpen, cb.State())
	assert.False(t, cb.CanExecute())
}

func TestCircuitBreakerHalfOpensAfterSleepWindow(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 10*time.Millisecond)
	cb.RecordFailure()
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(15 * time.Millisecond)
	assert.True(t, cb.CanExecute())
	assert.Equal(t, StateHalfOpen, cb.State())

	cb.RecordSuccess()
	assert.Equal(t, StateClosed, cb.State())
}

func TestWithCircuitBreakerRejectsWhenOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, time.Hour)
	cb.RecordFailure()

	cfg := &RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1, JitterFactor: 0}
	err := WithCircuitBreaker(context.Background(), cfg, cb, func() error { return nil })

	require.Error(t, err)
}
