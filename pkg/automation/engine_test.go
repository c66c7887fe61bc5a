package automation

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingExecutor struct {
	mu    sync.Mutex
	runs  int
	block chan struct{}
}

func (r *recordingExecutor) Execute(ctx context.Context, actions []json.RawMessage, trig *TriggerData, variables json.RawMessage) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.runs++
	r.mu.Unlock()
	return nil
}

func (r *recordingExecutor) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runs
}

// cancelAwareExecutor blocks until either its own unblock channel closes
// or ctx is canceled, recording which happened for each run.
type cancelAwareExecutor struct {
	mu        sync.Mutex
	started   int
	canceled  int
	completed int
	unblock   chan struct{}
}

func (r *cancelAwareExecutor) Execute(ctx context.Context, actions []json.RawMessage, trig *TriggerData, variables json.RawMessage) error {
	r.mu.Lock()
	r.started++
	r.mu.Unlock()
	select {
	case <-ctx.Done():
		r.mu.Lock()
		r.canceled++
		r.mu.Unlock()
		return ctx.Err()
	case <-r.unblock:
		r.mu.Lock()
		r.completed++
		r.mu.Unlock()
		return nil
	}
}

func (r *cancelAwareExecutor) snapshot() (started, canceled, completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started, r.canceled, r.completed
}

func TestEngineFiresOnMatchingStateTrigger(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	to := StateMatch{Values: []string{"on"}}
	require.NoError(t, mgr.Load([]Config{{
		ID: "a1",
		Triggers: []Trigger{{Kind: "state", State: &StateTrigger{
			EntityID: EntityIDSpec{IDs: []string{"light.kitchen"}},
			To:       &to,
		}}},
	}}))

	exec := &recordingExecutor{}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()
	defer eng.Stop()

	store.Set(mustEntity(t, "light.kitchen"), "on", nil, core.Context{ID: "ctx"})

	require.Eventually(t, func() bool {
		return exec.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngineRespectsSingleModeAdmission(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	to := StateMatch{Values: []string{"on"}}
	require.NoError(t, mgr.Load([]Config{{
		ID: "a1",
		Triggers: []Trigger{{Kind: "state", State: &StateTrigger{
			EntityID: EntityIDSpec{IDs: []string{"light.kitchen"}},
			To:       &to,
		}}},
	}}))

	block := make(chan struct{})
	exec := &recordingExecutor{block: block}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()
	defer eng.Stop()

	store.Set(mustEntity(t, "light.kitchen"), "on", nil, core.Context{ID: "ctx"})

	require.Eventually(t, func() bool {
		a, _ := mgr.Get("a1")
		return a.CurrentRuns == 1
	}, time.Second, 5*time.Millisecond)

	store.Set(mustEntity(t, "light.kitchen"), "off", nil, core.Context{ID: "ctx"})
	store.Set(mustEntity(t, "light.kitchen"), "on", nil, core.Context{ID: "ctx"})

	close(block)

	require.Eventually(t, func() bool {
		return exec.count() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, exec.count(), "second admission should have been rejected while the first run was still executing")
}

func TestEngineDisabledAutomationDoesNotRun(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	to := StateMatch{Values: []string{"on"}}
	enabled := false
	require.NoError(t, mgr.Load([]Config{{
		ID:      "a1",
		Enabled: &enabled,
		Triggers: []Trigger{{Kind: "state", State: &StateTrigger{
			EntityID: EntityIDSpec{IDs: []string{"light.kitchen"}},
			To:       &to,
		}}},
	}}))

	exec := &recordingExecutor{}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()
	defer eng.Stop()

	store.Set(mustEntity(t, "light.kitchen"), "on", nil, core.Context{ID: "ctx"})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, exec.count())
}

func TestEngineManualTrigger(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	require.NoError(t, mgr.Load([]Config{{ID: "a1"}}))

	exec := &recordingExecutor{}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()
	defer eng.Stop()

	require.NoError(t, eng.Trigger("a1", nil))

	require.Eventually(t, func() bool {
		return exec.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngineRestartModeCancelsInFlightRun(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	require.NoError(t, mgr.Load([]Config{{ID: "a1", Mode: "restart"}}))

	exec := &cancelAwareExecutor{unblock: make(chan struct{})}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()
	defer eng.Stop()

	require.NoError(t, eng.Trigger("a1", nil))
	require.Eventually(t, func() bool {
		started, _, _ := exec.snapshot()
		return started == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, eng.Trigger("a1", nil))
	require.Eventually(t, func() bool {
		_, canceled, _ := exec.snapshot()
		return canceled == 1
	}, time.Second, 5*time.Millisecond)

	close(exec.unblock)
	require.Eventually(t, func() bool {
		_, _, completed := exec.snapshot()
		return completed == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEngineFiresHomeassistantStartAndShutdownTriggers(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	require.NoError(t, mgr.Load([]Config{
		{ID: "on-start", Triggers: []Trigger{{Kind: "homeassistant", Homeassistant: &HomeassistantTrigger{Event: HassStart}}}},
		{ID: "on-shutdown", Triggers: []Trigger{{Kind: "homeassistant", Homeassistant: &HomeassistantTrigger{Event: HassShutdown}}}},
	}))

	exec := &recordingExecutor{}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()

	require.Eventually(t, func() bool {
		return exec.count() == 1
	}, time.Second, 5*time.Millisecond, "homeassistant start trigger should fire on Start")

	eng.Stop()
	require.Eventually(t, func() bool {
		return exec.count() == 2
	}, time.Second, 5*time.Millisecond, "homeassistant shutdown trigger should fire on Stop")
}

// tracingRecordingExecutor implements automation.TracingExecutor so
// Engine exercises its ExecuteTraced path.
type tracingRecordingExecutor struct {
	recordingExecutor
	gotRecorder bool
}

func (r *tracingRecordingExecutor) ExecuteTraced(ctx context.Context, actions []json.RawMessage, trig *TriggerData, variables json.RawMessage, rec TraceRecorder) error {
	r.mu.Lock()
	r.gotRecorder = rec != nil
	r.mu.Unlock()
	if rec != nil {
		rec.RecordAction("service", nil)
	}
	return r.recordingExecutor.Execute(ctx, actions, trig, variables)
}

func TestEngineRecordsExecutionTrace(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	mgr := NewManager(now)
	require.NoError(t, mgr.Load([]Config{{ID: "a1"}}))

	exec := &tracingRecordingExecutor{}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)
	eng.Start()
	defer eng.Stop()

	require.NoError(t, eng.Trigger("a1", nil))
	require.Eventually(t, func() bool {
		return exec.count() == 1
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		_, ok := eng.LatestTrace("a1")
		return ok
	}, time.Second, 5*time.Millisecond)

	trace, ok := eng.LatestTrace("a1")
	require.True(t, ok)
	assert.True(t, exec.gotRecorder)
	require.Len(t, trace.Steps, 3, "expected trigger, condition, and action steps")
	assert.Equal(t, "trigger", trace.Steps[0].Kind)
	assert.Equal(t, "condition", trace.Steps[1].Kind)
	assert.Equal(t, "action", trace.Steps[2].Kind)
	assert.True(t, trace.Steps[2].Success)
}

func TestEngineTriggerUnknownAutomationErrors(t *testing.T) {
	bus, store, tmpl := setupFixture(t)
	now := func() time.Time { return time.Now() }
	mgr := NewManager(now)
	exec := &recordingExecutor{}
	eng := NewEngine(bus, store, tmpl, mgr, exec, now)

	err := eng.Trigger("missing", nil)
	assert.Error(t, err)
}
