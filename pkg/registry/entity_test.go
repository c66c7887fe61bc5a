package registry

import (
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEntityRegistry(t *testing.T, now time.Time) *Registry {
	t.Helper()
	return NewRegistry(storage.New(t.TempDir()), clockAt(now))
}

func TestEntityGetOrCreateBuildsEntityID(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	entry := r.GetOrCreate("light", "hue", "unique-1", "entry_1", "device_1", "kitchen")
	assert.Equal(t, "light.kitchen", entry.EntityID)
	assert.Equal(t, "hue", entry.Platform)
	assert.Equal(t, "light", entry.Domain())
}

func TestEntityGetOrCreateDefaultsObjectIDToUniqueID(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	entry := r.GetOrCreate("sensor", "demo", "abc123", "", "", "")
	assert.Equal(t, "sensor.abc123", entry.EntityID)
}

func TestEntityGetOrCreateIdempotentOnUniqueID(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	first := r.GetOrCreate("light", "hue", "dup", "", "", "kitchen")
	second := r.GetOrCreate("light", "hue", "dup", "", "", "other_name")
	assert.Equal(t, first.EntityID, second.EntityID)
	assert.Equal(t, 1, r.Len())
}

func TestEntityGetByUniqueID(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	created := r.GetOrCreate("switch", "demo", "sw-1", "", "", "")

	found, ok := r.GetByUniqueID("demo", "sw-1")
	require.True(t, ok)
	assert.Equal(t, created.EntityID, found.EntityID)
}

func TestEntityRenameTracksPreviousEntityID(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	created := r.GetOrCreate("light", "demo", "rn-1", "", "", "old_name")

	updated, ok := r.Update(created.EntityID, func(e *EntityEntry) {
		e.EntityID = "light.new_name"
	})
	require.True(t, ok)
	require.NotNil(t, updated.PreviousEntityID)
	assert.Equal(t, "light.old_name", *updated.PreviousEntityID)

	byOld, ok := r.Get("light.old_name")
	require.True(t, ok)
	assert.Equal(t, "light.new_name", byOld.EntityID)

	byNew, ok := r.Get("light.new_name")
	require.True(t, ok)
	assert.Equal(t, "light.new_name", byNew.EntityID)
}

func TestEntityGetByDeviceAndAreaAndPlatform(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	entry := r.GetOrCreate("light", "hue", "u1", "entry_1", "device_1", "lamp")
	_, ok := r.Update(entry.EntityID, func(e *EntityEntry) { e.AreaID = "area_1" })
	require.True(t, ok)

	byDevice := r.GetByDeviceID("device_1")
	require.Len(t, byDevice, 1)

	byArea := r.GetByAreaID("area_1")
	require.Len(t, byArea, 1)

	byPlatform := r.GetByPlatform("hue")
	require.Len(t, byPlatform, 1)

	byConfigEntry := r.GetByConfigEntryID("entry_1")
	require.Len(t, byConfigEntry, 1)
}

func TestEntityUpdateUnknownReturnsFalse(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	_, ok := r.Update("light.missing", func(e *EntityEntry) {})
	assert.False(t, ok)
}

func TestEntityRemove(t *testing.T) {
	r := newTestEntityRegistry(t, time.Now())
	entry := r.GetOrCreate("light", "demo", "rm-1", "", "", "")

	removed, ok := r.Remove(entry.EntityID)
	require.True(t, ok)
	assert.Equal(t, entry.EntityID, removed.EntityID)

	_, ok = r.Get(entry.EntityID)
	assert.False(t, ok)
}

func TestEntitySaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s := storage.New(dir)

	r1 := NewRegistry(s, clockAt(now))
	r1.GetOrCreate("light", "hue", "u1", "", "", "kitchen")
	require.NoError(t, r1.Save())

	r2 := NewRegistry(s, clockAt(now))
	require.NoError(t, r2.Load())
	assert.Equal(t, 1, r2.Len())

	_, ok := r2.GetByUniqueID("hue", "u1")
	assert.True(t, ok)
}
