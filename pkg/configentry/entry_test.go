package configentry

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEntryDefaults(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	entry := New("hue", "Philips Hue", now)

	assert.Equal(t, "hue", entry.Domain)
	assert.Equal(t, "Philips Hue", entry.Title)
	assert.Equal(t, StateNotLoaded, entry.State)
	assert.Equal(t, 1, entry.Version)
	assert.NotEmpty(t, entry.EntryID)
}

func TestTrySetStateResetsTriesOutsideRetryStates(t *testing.T) {
	entry := New("hue", "Hue", time.Now())
	require.NoError(t, entry.TrySetState(StateSetupInProgress, ""))
	entry.IncrementTries()
	entry.IncrementTries()
	require.NoError(t, entry.TrySetState(StateSetupRetry, "retry requested"))
	assert.Equal(t, uint32(2), entry.Tries)

	require.NoError(t, entry.TrySetState(StateSetupInProgress, ""))
	require.NoError(t, entry.TrySetState(StateLoaded, ""))
	assert.Equal(t, uint32(0), entry.Tries)
}

func TestTrySetStateRejectsInvalidTransition(t *testing.T) {
	entry := New("hue", "Hue", time.Now())
	err := entry.TrySetState(StateLoaded, "")
	assert.Error(t, err)
	assert.Equal(t, StateNotLoaded, entry.State)
}

func TestIsDisabledAndLoaded(t *testing.T) {
	entry := New("hue", "Hue", time.Now())
	assert.False(t, entry.IsDisabled())
	assert.False(t, entry.IsLoaded())

	entry.DisabledBy = DisabledByUser
	assert.True(t, entry.IsDisabled())
}

func TestApplyUpdate(t *testing.T) {
	entry := New("hue", "Hue", time.Now())
	title := "Philips Hue Bridge"
	disable := true
	entry.Apply(Update{Title: &title, PrefDisableNewEntities: &disable}, time.Now())

	assert.Equal(t, "Philips Hue Bridge", entry.Title)
	assert.True(t, entry.PrefDisableNewEntities)
}

func TestMarshalJSONExcludesRuntimeFields(t *testing.T) {
	entry := New("hue", "Hue", time.Now())
	require.NoError(t, entry.TrySetState(StateSetupInProgress, ""))
	entry.IncrementTries()

	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m))
	_, hasState := m["state"]
	_, hasTries := m["tries"]
	assert.False(t, hasState)
	assert.False(t, hasTries)
}

func TestUnmarshalJSONResetsToNotLoaded(t *testing.T) {
	entry := New("hue", "Hue", time.Now())
	require.NoError(t, entry.TrySetState(StateSetupInProgress, ""))
	require.NoError(t, entry.TrySetState(StateLoaded, ""))

	raw, err := json.Marshal(entry)
	require.NoError(t, err)

	var restored Entry
	require.NoError(t, json.Unmarshal(raw, &restored))
	assert.Equal(t, StateNotLoaded, restored.State)
	assert.Equal(t, entry.Domain, restored.Domain)
	assert.Equal(t, entry.EntryID, restored.EntryID)
}
