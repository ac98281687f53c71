package request

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsEmptyContent(t *testing.T) {
	_, err := New("r1", "", TypeReview, PriorityLow, Context{}, Constraints{})
	require.Error(t, err)
}

func TestNewAcceptsExactly100000Chars(t *testing.T) {
	content := strings.Repeat("a", maxContentLen)
	r, err := New("r1", content, TypeReview, PriorityLow, Context{}, Constraints{})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
}

func TestNewRejects100001Chars(t *testing.T) {
	content := strings.Repeat("a", maxContentLen+1)
	_, err := New("r1", content, TypeReview, PriorityLow, Context{}, Constraints{})
	require.Error(t, err)
}

func TestNewRejectsEmptyID(t *testing.T) {
	_, err := New("", "hi", TypeReview, PriorityLow, Context{}, Constraints{})
	require.Error(t, err)
}

func TestLifecycleHappyPath(t *testing.T) {
	r, err := New("r1", "hello", TypeReview, PriorityLow, Context{}, Constraints{})
	require.NoError(t, err)

	r, err = r.Start()
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, r.Status)

	r, err = r.Complete()
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, r.Status)
	assert.True(t, r.Terminal())
}

func TestOnlyPendingMayStart(t *testing.T) {
	r, _ := New("r1", "hello", TypeReview, PriorityLow, Context{}, Constraints{})
	r, _ = r.Start()

	_, err := r.Start()
	require.Error(t, err)
}

func TestCompletedIsTerminal(t *testing.T) {
	r, _ := New("r1", "hello", TypeReview, PriorityLow, Context{}, Constraints{})
	r, _ = r.Start()
	r, _ = r.Complete()

	_, err := r.Fail()
	require.Error(t, err)
	_, err = r.Cancel()
	require.Error(t, err)
}

func TestCancelFromPendingOrProcessing(t *testing.T) {
	r, _ := New("r1", "hello", TypeReview, PriorityLow, Context{}, Constraints{})
	r, err := r.Cancel()
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, r.Status)

	r2, _ := New("r2", "hello", TypeReview, PriorityLow, Context{}, Constraints{})
	r2, _ = r2.Start()
	r2, err = r2.Cancel()
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, r2.Status)
}

func TestTransitionsProduceNewValueNotMutation(t *testing.T) {
	r, _ := New("r1", "hello", TypeReview, PriorityLow, Context{}, Constraints{})
	started, _ := r.Start()

	assert.Equal(t, StatusPending, r.Status)
	assert.Equal(t, StatusProcessing, started.Status)
}
