package script

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/events"
	"github.com/cuemby/hassd/pkg/service"
	"github.com/cuemby/hassd/pkg/state"
	"github.com/cuemby/hassd/pkg/template"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(t time.Time) core.Clock { return func() time.Time { return t } }

func mustEntity(t *testing.T, raw string) core.EntityID {
	id, err := core.ParseEntityID(raw)
	require.NoError(t, err)
	return id
}

func setupExecutor(t *testing.T) (*Executor, *state.Store, *service.Registry) {
	exec, store, services, _ := setupExecutorWithBus(t)
	return exec, store, services
}

func setupExecutorWithBus(t *testing.T) (*Executor, *state.Store, *service.Registry, *events.Broker) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	bus := events.NewBroker(clockAt(now))
	store := state.New(bus, clockAt(now))
	tmpl := template.NewEngine(store, clockAt(now))
	services := service.New()
	exec := NewExecutor(store, services, tmpl, bus, clockAt(now))
	return exec, store, services, bus
}

func TestExecuteServiceAction(t *testing.T) {
	exec, store, services := setupExecutor(t)

	var called bool
	services.Register("light", "turn_on", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		called = true
		return nil, nil
	}, service.SupportsResponseNone)

	store.Set(mustEntity(t, "light.kitchen"), "off", nil, core.Context{ID: "ctx"})

	actions := []json.RawMessage{[]byte(`{"service":"light.turn_on","target":{"entity_id":"light.kitchen"}}`)}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestExecuteSequenceStopsOnFirstError(t *testing.T) {
	exec, _, services := setupExecutor(t)
	var secondCalled bool
	services.Register("light", "fail", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		return nil, assert.AnError
	}, service.SupportsResponseNone)
	services.Register("light", "second", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		secondCalled = true
		return nil, nil
	}, service.SupportsResponseNone)

	actions := []json.RawMessage{
		[]byte(`{"service":"light.fail"}`),
		[]byte(`{"service":"light.second"}`),
	}
	err := exec.Execute(context.Background(), actions, nil, nil)
	assert.Error(t, err)
	assert.False(t, secondCalled)
}

func TestExecuteVariablesAndTemplateRendering(t *testing.T) {
	exec, _, services := setupExecutor(t)
	var gotBrightness string
	services.Register("light", "turn_on", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		var data map[string]json.RawMessage
		_ = json.Unmarshal(call.Data, &data)
		gotBrightness = string(data["brightness"])
		return nil, nil
	}, service.SupportsResponseNone)

	actions := []json.RawMessage{
		[]byte(`{"variables":{"level":200}}`),
		[]byte(`{"service":"light.turn_on","data":{"brightness":"{{ level }}"}}`),
	}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, `"200"`, gotBrightness)
}

func TestExecuteChooseSelectsMatchingBranch(t *testing.T) {
	exec, store, services := setupExecutor(t)
	var ranBranch string
	services.Register("light", "a", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		ranBranch = "a"
		return nil, nil
	}, service.SupportsResponseNone)
	services.Register("light", "b", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		ranBranch = "b"
		return nil, nil
	}, service.SupportsResponseNone)

	store.Set(mustEntity(t, "light.kitchen"), "on", nil, core.Context{ID: "ctx"})

	raw := `{"choose":[{"conditions":[{"condition":"state","entity_id":"light.kitchen","state":"off"}],"sequence":[{"service":"light.a"}]}],"default":[{"service":"light.b"}]}`
	actions := []json.RawMessage{[]byte(raw)}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "b", ranBranch)
}

func TestExecuteIfThenElse(t *testing.T) {
	exec, store, services := setupExecutor(t)
	var ran string
	services.Register("light", "then", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		ran = "then"
		return nil, nil
	}, service.SupportsResponseNone)
	services.Register("light", "else", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		ran = "else"
		return nil, nil
	}, service.SupportsResponseNone)

	store.Set(mustEntity(t, "light.kitchen"), "on", nil, core.Context{ID: "ctx"})

	raw := `{"if":[{"condition":"state","entity_id":"light.kitchen","state":"on"}],"then":[{"service":"light.then"}],"else":[{"service":"light.else"}]}`
	actions := []json.RawMessage{[]byte(raw)}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "then", ran)
}

func TestExecuteRepeatCount(t *testing.T) {
	exec, _, services := setupExecutor(t)
	count := 0
	services.Register("counter", "increment", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		count++
		return nil, nil
	}, service.SupportsResponseNone)

	raw := `{"repeat":{"count":3,"sequence":[{"service":"counter.increment"}]}}`
	actions := []json.RawMessage{[]byte(raw)}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestExecuteDelayComponents(t *testing.T) {
	exec, _, _ := setupExecutor(t)
	start := time.Now()
	actions := []json.RawMessage{[]byte(`{"delay":{"milliseconds":20}}`)}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestExecuteStopHaltsSequenceWithoutError(t *testing.T) {
	exec, _, services := setupExecutor(t)
	var afterStopCalled bool
	services.Register("light", "after", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		afterStopCalled = true
		return nil, nil
	}, service.SupportsResponseNone)

	actions := []json.RawMessage{
		[]byte(`{"stop":"done"}`),
		[]byte(`{"service":"light.after"}`),
	}
	err := exec.Execute(context.Background(), actions, nil, nil)
	assert.Error(t, err)
	assert.False(t, afterStopCalled)
}

func TestExecuteEventActionFiresOnBus(t *testing.T) {
	exec, _, _, bus := setupExecutorWithBus(t)
	sub := bus.Subscribe("custom_test_event")

	actions := []json.RawMessage{[]byte(`{"event":"custom_test_event","event_data":{"foo":"bar"}}`)}
	err := exec.Execute(context.Background(), actions, nil, nil)
	require.NoError(t, err)

	select {
	case evt := <-sub:
		assert.Equal(t, "custom_test_event", evt.EventType)
	case <-time.After(time.Second):
		t.Fatal("expected event to be fired on the bus")
	}
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRecorder) RecordAction(kind string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "err"
	}
	f.calls = append(f.calls, kind+":"+status)
}

func (f *fakeRecorder) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func TestExecuteTracedRecordsTopLevelAndNestedActionSteps(t *testing.T) {
	exec, store, services := setupExecutor(t)
	services.Register("light", "turn_on", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		return nil, nil
	}, service.SupportsResponseNone)
	store.Set(mustEntity(t, "light.kitchen"), "off", nil, core.Context{ID: "ctx"})

	rec := &fakeRecorder{}
	actions := []json.RawMessage{
		[]byte(`{"variables":{"x":1}}`),
		[]byte(`{"if":[{"condition":"state","entity_id":"light.kitchen","state":"off"}],"then":[{"service":"light.turn_on"}]}`),
	}
	err := exec.ExecuteTraced(context.Background(), actions, nil, nil, rec)
	require.NoError(t, err)
	assert.Equal(t, []string{"variables:ok", "if:ok", "service:ok"}, rec.snapshot())
}

func TestExecuteTracedSuppressesGracefulStopAsFailure(t *testing.T) {
	exec, _, _ := setupExecutor(t)
	rec := &fakeRecorder{}
	actions := []json.RawMessage{[]byte(`{"stop":"done"}`)}
	err := exec.ExecuteTraced(context.Background(), actions, nil, nil, rec)
	assert.Error(t, err, "Execute still propagates the stop as an error to halt the sequence")
	assert.Equal(t, []string{"stop:ok"}, rec.snapshot())
}

func TestExecuteParallelFirstFailureCancelsSiblings(t *testing.T) {
	exec, _, services := setupExecutor(t)
	services.Register("light", "boom", func(ctx context.Context, call service.Call) (json.RawMessage, error) {
		return nil, fmt.Errorf("boom")
	}, service.SupportsResponseNone)

	actions := []json.RawMessage{
		[]byte(`{"parallel":[
			{"service":"light.boom"},
			{"delay":{"seconds":5}}
		]}`),
	}
	start := time.Now()
	err := exec.Execute(context.Background(), actions, nil, nil)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second, "the long delay branch should have been canceled, not run to completion")
}
