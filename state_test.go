package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *StateStore {
	t.Helper()
	store, err := NewStateStore(filepath.Join(t.TempDir(), "campaign_state.json"))
	require.NoError(t, err)
	return store
}

func TestNewStateStoreDefaults(t *testing.T) {
	store := newTestStore(t)

	st := store.State()
	assert.Empty(t, st.Queue)
	assert.Equal(t, 0, st.Index)
	assert.False(t, st.IsRunning)
	assert.Equal(t, defaultDelayMin, st.DelayMin)
	assert.Equal(t, defaultDelayMax, st.DelayMax)
	assert.Equal(t, defaultRetryMax, st.RetryMax)
	assert.True(t, st.ContinueOnError)
	assert.True(t, st.TypingEffect)
}

func TestStateStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign_state.json")
	store, err := NewStateStore(path)
	require.NoError(t, err)

	st := store.State()
	st.Queue = []QueueEntry{
		{Phone: "5511999998888", Status: StatusSent, Valid: true},
		{Phone: "5511999997777", Status: StatusPending, Valid: true},
	}
	st.Index = 1
	st.Message = "hello"
	st.URLNavigationInProgress = true
	st.CurrentPhoneNumber = "5511999997777"
	st.RecomputeStats()
	require.NoError(t, store.Persist())

	reloaded, err := NewStateStore(path)
	require.NoError(t, err)
	got := reloaded.State()
	assert.Equal(t, 1, got.Index)
	assert.Equal(t, "hello", got.Message)
	assert.True(t, got.URLNavigationInProgress)
	assert.Equal(t, "5511999997777", got.CurrentPhoneNumber)
	require.Len(t, got.Queue, 2)
	assert.Equal(t, StatusSent, got.Queue[0].Status)
	assert.Equal(t, 1, got.Stats.Sent)
	assert.Equal(t, 1, got.Stats.Pending)
}

func TestStateStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campaign_state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewStateStore(path)
	assert.Error(t, err)
}

func TestPersistWritesValidJSONAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "campaign_state.json")
	store, err := NewStateStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Persist())

	// No temp leftovers after a successful rename.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "campaign_state.json", entries[0].Name())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded CampaignState
	assert.NoError(t, json.Unmarshal(data, &decoded))
}

func TestRecomputeStats(t *testing.T) {
	st := defaultCampaignState()
	st.Queue = []QueueEntry{
		{Status: StatusSent},
		{Status: StatusSent},
		{Status: StatusFailed},
		{Status: StatusPending},
		{Status: StatusOpened},
	}
	st.RecomputeStats()
	assert.Equal(t, 2, st.Stats.Sent)
	assert.Equal(t, 1, st.Stats.Failed)
	// Opened counts as pending: the attempt has not resolved yet.
	assert.Equal(t, 2, st.Stats.Pending)
}

func TestBuildQueueResetsCursorAndFlags(t *testing.T) {
	store := newTestStore(t)
	st := store.State()
	st.Index = 7
	st.IsRunning = true
	st.URLNavigationInProgress = true
	st.CurrentPhoneNumber = "5511999998888"
	firstRun := st.RunID

	entries := []QueueEntry{
		{Phone: "5511999998888", Status: StatusPending, Valid: true},
	}
	require.NoError(t, store.BuildQueue(entries, "oi"))

	assert.Equal(t, 0, st.Index)
	assert.False(t, st.IsRunning)
	assert.False(t, st.URLNavigationInProgress)
	assert.Empty(t, st.CurrentPhoneNumber)
	assert.Equal(t, "oi", st.Message)
	assert.NotEmpty(t, st.RunID)
	assert.NotEqual(t, firstRun, st.RunID)
	assert.Equal(t, 1, st.Stats.Pending)
}

func TestHasPendingWork(t *testing.T) {
	st := defaultCampaignState()
	assert.False(t, st.HasPendingWork())

	st.Queue = []QueueEntry{{Phone: "5511999998888", Status: StatusPending, Valid: true}}
	assert.True(t, st.HasPendingWork())

	st.Index = 1
	assert.False(t, st.HasPendingWork())
}

func TestApplySettings(t *testing.T) {
	store := newTestStore(t)
	retryMax := 5
	cont := false
	typing := false
	cfg := &CampaignConfig{
		DelayMinSeconds: 2,
		DelayMaxSeconds: 4,
		RetryMax:        &retryMax,
		ContinueOnError: &cont,
		TypingEffect:    &typing,
		TypingDelayMs:   50,
	}
	store.ApplySettings(cfg)

	st := store.State()
	assert.Equal(t, 2, st.DelayMin)
	assert.Equal(t, 4, st.DelayMax)
	assert.Equal(t, 5, st.RetryMax)
	assert.False(t, st.ContinueOnError)
	assert.False(t, st.TypingEffect)
	assert.Equal(t, 50, st.TypingDelayMs)
}
