package template

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/events"
	"github.com/cuemby/hassd/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(t time.Time) core.Clock {
	return func() time.Time { return t }
}

func mustEntity(t *testing.T, raw string) core.EntityID {
	t.Helper()
	id, err := core.ParseEntityID(raw)
	require.NoError(t, err)
	return id
}

func rawJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func setupEngine(t *testing.T) (*state.Store, *Engine) {
	t.Helper()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bus := events.NewBroker(clockAt(now))
	store := state.New(bus, clockAt(now))

	store.Set(mustEntity(t, "light.living_room"), "on", map[string]json.RawMessage{
		"brightness":    rawJSON(t, 255),
		"friendly_name": rawJSON(t, "Living Room Light"),
		"color_temp":    rawJSON(t, 400),
	}, core.Context{ID: "ctx"})

	store.Set(mustEntity(t, "light.bedroom"), "off", map[string]json.RawMessage{
		"friendly_name": rawJSON(t, "Bedroom Light"),
	}, core.Context{ID: "ctx"})

	store.Set(mustEntity(t, "sensor.temperature"), "23.5", map[string]json.RawMessage{
		"unit_of_measurement": rawJSON(t, "°C"),
		"friendly_name":       rawJSON(t, "Temperature"),
	}, core.Context{ID: "ctx"})

	store.Set(mustEntity(t, "switch.unavailable_device"), "unavailable", nil, core.Context{ID: "ctx"})
	store.Set(mustEntity(t, "switch.unknown_device"), "unknown", nil, core.Context{ID: "ctx"})

	store.Set(mustEntity(t, "device_tracker.paulus"), "home", map[string]json.RawMessage{
		"battery":   rawJSON(t, 85),
		"latitude":  rawJSON(t, 52.3731),
		"longitude": rawJSON(t, 4.8922),
	}, core.Context{ID: "ctx"})

	engine := NewEngine(store, clockAt(now))
	return store, engine
}

func TestStatesFunctionReturnsStateValue(t *testing.T) {
	_, e := setupEngine(t)
	out, err := e.Render(`{{ states('light.living_room') }}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "on", out)
}

func TestStatesFunctionUnknownEntityIsUndefinedNotError(t *testing.T) {
	_, e := setupEngine(t)
	out, err := e.Render(`[{{ states('light.nonexistent') }}]`, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", out)
}

func TestStatesDotAccess(t *testing.T) {
	_, e := setupEngine(t)
	out, err := e.Render(`{{ states.light.living_room.state }}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "on", out)
}

func TestStatesDomainProxyListsEntities(t *testing.T) {
	_, e := setupEngine(t)
	val, err := e.EvalValue(`states.light()`, nil)
	require.NoError(t, err)
	items, ok := val.Items()
	require.True(t, ok)
	assert.Len(t, items, 2)
}

func TestIsState(t *testing.T) {
	_, e := setupEngine(t)
	ok, err := e.EvalBool(`is_state('light.living_room', 'on')`, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvalBool(`is_state('light.living_room', 'off')`, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsStateAnyAcceptsList(t *testing.T) {
	_, e := setupEngine(t)
	ok, err := e.EvalBool(`is_state('light.living_room', ['on', 'off'])`, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvalBool(`is_state('light.living_room', ['off', 'unavailable'])`, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateAttr(t *testing.T) {
	_, e := setupEngine(t)
	val, err := e.EvalValue(`state_attr('light.living_room', 'brightness')`, nil)
	require.NoError(t, err)
	i, ok := val.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(255), i)

	val, err = e.EvalValue(`state_attr('light.living_room', 'friendly_name')`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Living Room Light", val.String())
}

func TestIsStateAttr(t *testing.T) {
	_, e := setupEngine(t)
	ok, err := e.EvalBool(`is_state_attr('light.living_room', 'brightness', 255)`, nil)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestHasValue(t *testing.T) {
	_, e := setupEngine(t)
	ok, err := e.EvalBool(`has_value('light.living_room')`, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.EvalBool(`has_value('switch.unavailable_device')`, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvalBool(`has_value('switch.unknown_device')`, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = e.EvalBool(`has_value('nonexistent.entity')`, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}
