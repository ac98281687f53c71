package spineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultsSeverityByKind(t *testing.T) {
	e := New(KindSecurity, "redteam.scan", errors.New("boom"), nil)
	assert.Equal(t, SeverityCritical, e.Severity)
	assert.False(t, e.IsRetryable)
}

func TestIsRetryableKinds(t *testing.T) {
	tests := []struct {
		kind      Kind
		retryable bool
	}{
		{KindNetwork, true},
		{KindTimeout, true},
		{KindRateLimit, true},
		{KindAuthentication, false},
		{KindValidation, false},
		{KindSecurity, false},
	}
	for _, tt := range tests {
		err := New(tt.kind, "op", errors.New("x"), nil)
		assert.Equal(t, tt.retryable, IsRetryable(err), "kind=%s", tt.kind)
		assert.Equal(t, !tt.retryable, IsTerminal(err), "kind=%s", tt.kind)
	}
}

func TestUnwrapAndKindOf(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := New(KindNetwork, "backend.dial", cause, map[string]interface{}{"backend": "speed"})

	require.ErrorIs(t, err, cause)
	assert.Equal(t, KindNetwork, KindOf(err))
	assert.Equal(t, Kind(""), KindOf(cause))
}

func TestErrorMessageIncludesOperation(t *testing.T) {
	err := New(KindTimeout, "router.route", errors.New("deadline exceeded"), nil)
	assert.Contains(t, err.Error(), "router.route")
	assert.Contains(t, err.Error(), "timeout")
}

func TestWithSeverityDoesNotMutateOriginal(t *testing.T) {
	original := New(KindNetwork, "op", errors.New("x"), nil)
	escalated := original.WithSeverity(SeverityCritical)

	assert.Equal(t, SeverityLow, original.Severity)
	assert.Equal(t, SeverityCritical, escalated.Severity)
}
