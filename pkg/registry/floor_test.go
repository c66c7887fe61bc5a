package registry

import (
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFloorRegistry(t *testing.T, now time.Time) *FloorRegistry {
	t.Helper()
	return NewFloorRegistry(storage.New(t.TempDir()), clockAt(now))
}

func TestFloorCreateAndGet(t *testing.T) {
	now := time.Now()
	r := newTestFloorRegistry(t, now)

	level := 2
	entry := r.Create("Second Floor", &level)
	assert.Equal(t, "second floor", entry.NormalizedName)
	require.NotNil(t, entry.Level)
	assert.Equal(t, 2, *entry.Level)

	got, ok := r.Get(entry.ID)
	require.True(t, ok)
	assert.Equal(t, entry, got)
}

func TestFloorGetByName(t *testing.T) {
	r := newTestFloorRegistry(t, time.Now())
	r.Create("Ground Floor", nil)

	entry, ok := r.GetByName("Ground Floor")
	require.True(t, ok)
	assert.Equal(t, "Ground Floor", entry.Name)

	_, ok = r.GetByName("Basement")
	assert.False(t, ok)
}

func TestFloorUpdateBumpsModifiedAt(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	current := t0
	r := NewFloorRegistry(storage.New(t.TempDir()), func() time.Time { return current })
	entry := r.Create("Loft", nil)
	assert.Equal(t, t0, entry.ModifiedAt)

	current = t0.Add(time.Hour)
	updated, ok := r.Update(entry.ID, func(e *FloorEntry) { e.Icon = "mdi:stairs" })
	require.True(t, ok)
	assert.Equal(t, current, updated.ModifiedAt)
	assert.Equal(t, t0, updated.CreatedAt)
}

func TestFloorRemove(t *testing.T) {
	r := newTestFloorRegistry(t, time.Now())
	entry := r.Create("Attic", nil)

	removed, ok := r.Remove(entry.ID)
	require.True(t, ok)
	assert.Equal(t, entry.ID, removed.ID)

	_, ok = r.Get(entry.ID)
	assert.False(t, ok)
}

func TestFloorSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s := storage.New(dir)

	r1 := NewFloorRegistry(s, clockAt(now))
	r1.Create("Main", nil)
	require.NoError(t, r1.Save())

	r2 := NewFloorRegistry(s, clockAt(now))
	require.NoError(t, r2.Load())
	assert.Equal(t, 1, r2.Len())
}
