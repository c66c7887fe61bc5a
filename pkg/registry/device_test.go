package registry

import (
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDeviceRegistry(t *testing.T, now time.Time) *DeviceRegistry {
	t.Helper()
	return NewDeviceRegistry(storage.New(t.TempDir()), clockAt(now))
}

func TestDeviceGetOrCreateByIdentifier(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	idents := []DeviceIdentifier{{Domain: "zwave", ID: "node-5"}}

	first := r.GetOrCreate(idents, nil, "entry_1", "Thermostat")
	second := r.GetOrCreate(idents, nil, "entry_1", "Thermostat")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, r.Len())
}

func TestDeviceGetOrCreateByConnectionMatchesBeforeCreating(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	conns := []DeviceConnection{{ConnectionType: "mac", ID: "aa:bb:cc:dd:ee:ff"}}

	first := r.GetOrCreate(nil, conns, "", "Switch")
	second := r.GetOrCreate(nil, conns, "", "Switch (renamed probe)")
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "Switch", second.Name)
}

func TestDeviceGetOrCreateDefaultsUnknownName(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	entry := r.GetOrCreate(nil, nil, "", "")
	assert.Equal(t, "Unknown Device", entry.Name)
}

func TestDeviceGetByIdentifierAndConnection(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	idents := []DeviceIdentifier{{Domain: "hue", ID: "bulb-1"}}
	conns := []DeviceConnection{{ConnectionType: "mac", ID: "11:22:33:44:55:66"}}
	created := r.GetOrCreate(idents, conns, "", "Bulb")

	byIdent, ok := r.GetByIdentifier("hue", "bulb-1")
	require.True(t, ok)
	assert.Equal(t, created.ID, byIdent.ID)

	byConn, ok := r.GetByConnection("mac", "11:22:33:44:55:66")
	require.True(t, ok)
	assert.Equal(t, created.ID, byConn.ID)
}

func TestDeviceGetChildrenViaDeviceID(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	hub := r.GetOrCreate([]DeviceIdentifier{{Domain: "zigbee", ID: "hub"}}, nil, "", "Hub")
	child := r.GetOrCreate([]DeviceIdentifier{{Domain: "zigbee", ID: "bulb"}}, nil, "", "Bulb")

	_, ok := r.Update(child.ID, func(e *DeviceEntry) { e.ViaDeviceID = hub.ID })
	require.True(t, ok)

	children := r.GetChildren(hub.ID)
	require.Len(t, children, 1)
	assert.Equal(t, child.ID, children[0].ID)
}

func TestDeviceGetByAreaIDAndConfigEntry(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	d := r.GetOrCreate(nil, nil, "entry_9", "Lamp")
	_, ok := r.Update(d.ID, func(e *DeviceEntry) { e.AreaID = "area_1" })
	require.True(t, ok)

	byArea := r.GetByAreaID("area_1")
	require.Len(t, byArea, 1)
	assert.Equal(t, d.ID, byArea[0].ID)

	byConfigEntry := r.GetByConfigEntryID("entry_9")
	require.Len(t, byConfigEntry, 1)
	assert.Equal(t, d.ID, byConfigEntry[0].ID)
}

func TestDeviceUpdateUnknownReturnsFalse(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	_, ok := r.Update("missing", func(e *DeviceEntry) {})
	assert.False(t, ok)
}

func TestDeviceRemove(t *testing.T) {
	r := newTestDeviceRegistry(t, time.Now())
	idents := []DeviceIdentifier{{Domain: "zwave", ID: "node-9"}}
	d := r.GetOrCreate(idents, nil, "", "Sensor")

	removed, ok := r.Remove(d.ID)
	require.True(t, ok)
	assert.Equal(t, d.ID, removed.ID)

	_, ok = r.GetByIdentifier("zwave", "node-9")
	assert.False(t, ok)
}

func TestDeviceSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()
	s := storage.New(dir)

	r1 := NewDeviceRegistry(s, clockAt(now))
	r1.GetOrCreate([]DeviceIdentifier{{Domain: "hue", ID: "1"}}, nil, "", "Bulb")
	require.NoError(t, r1.Save())

	r2 := NewDeviceRegistry(s, clockAt(now))
	require.NoError(t, r2.Load())
	assert.Equal(t, 1, r2.Len())

	_, ok := r2.GetByIdentifier("hue", "1")
	assert.True(t, ok)
}
