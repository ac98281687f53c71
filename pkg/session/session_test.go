package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianrt/spine/pkg/memory"
	"github.com/meridianrt/spine/pkg/voice"
)

func TestSaveWritesBothSessionAndLatestFiles(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	ctx := Context{SessionID: "abc", Timestamp: time.Now(), Summary: "first run"}
	require.NoError(t, store.Save(ctx))

	loaded, err := store.Load("abc")
	require.NoError(t, err)
	assert.Equal(t, "first run", loaded.Summary)

	latest, err := store.LoadLatest()
	require.NoError(t, err)
	assert.Equal(t, "abc", latest.SessionID)
}

func TestSaveThrottlesRepeatedWritesWithinInterval(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	first := Context{SessionID: "abc", Summary: "v1"}
	require.NoError(t, store.Save(first))

	second := Context{SessionID: "abc", Summary: "v2"}
	require.NoError(t, store.Save(second))

	loaded, err := store.Load("abc")
	require.NoError(t, err)
	assert.Equal(t, "v1", loaded.Summary, "second save within the throttle window should be skipped")
}

func TestFlushBypassesThrottle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Save(Context{SessionID: "abc", Summary: "v1"}))
	require.NoError(t, store.Flush(Context{SessionID: "abc", Summary: "v2"}))

	loaded, err := store.Load("abc")
	require.NoError(t, err)
	assert.Equal(t, "v2", loaded.Summary)
}

func TestFromRecordsConvertsCollaborationRecords(t *testing.T) {
	records := []memory.CollaborationRecord{
		{Voices: []voice.ID{voice.Developer}, TaskType: "implementation", Outcome: "success", Quality: 0.9, Timestamp: time.Now()},
	}
	items := FromRecords(records)
	require.Len(t, items, 1)
	assert.Equal(t, "implementation", items[0].TaskType)
}

func TestLoadMissingSessionReturnsError(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("does-not-exist")
	assert.Error(t, err)
}
