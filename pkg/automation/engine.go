package automation

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/internal/metrics"
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/events"
	"github.com/cuemby/hassd/pkg/state"
	"github.com/cuemby/hassd/pkg/template"
)

// clockTickInterval is how often the engine checks time/time_pattern
// triggers against the wall clock; second granularity matches the
// seconds field time_pattern triggers can specify.
const clockTickInterval = time.Second

// Executor runs an automation's action sequence. pkg/script implements
// this against a *script.Executor; the interface lives here so this
// package never needs to import pkg/script.
type Executor interface {
	Execute(ctx context.Context, actions []json.RawMessage, trig *TriggerData, variables json.RawMessage) error
}

// TracingExecutor is implemented by executors that can report each
// action's outcome into a TraceRecorder as they run it. pkg/script's
// Executor implements this; Engine falls back to recording only the
// trigger and condition steps for executors that don't.
type TracingExecutor interface {
	Executor
	ExecuteTraced(ctx context.Context, actions []json.RawMessage, trig *TriggerData, variables json.RawMessage, rec TraceRecorder) error
}

// Engine subscribes to every event on the bus and, for each enabled
// automation, checks its triggers against incoming events, evaluates
// conditions, and dispatches matching runs to an Executor — one
// detached goroutine per admitted run, mirroring AutomationEngine's
// tokio::spawn per trigger match.
type Engine struct {
	bus       *events.Broker
	manager   *Manager
	triggers  *TriggerEvaluator
	conds     *ConditionEvaluator
	executor  Executor
	now       func() time.Time
	traces    *TraceStore

	stopCh chan struct{}
	doneCh chan struct{}

	// cancels tracks the in-flight run's cancel func per automation
	// running under "restart" mode, so a new admitted run can cancel
	// its predecessor before starting.
	mu      sync.Mutex
	cancels map[string]*cancelHandle
}

// cancelHandle wraps a context.CancelFunc so runAutomation can tell,
// by pointer identity, whether the entry in Engine.cancels still
// belongs to its own run before clearing it.
type cancelHandle struct {
	cancel context.CancelFunc
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(bus *events.Broker, states *state.Store, tmpl *template.Engine, manager *Manager, executor Executor, now func() time.Time) *Engine {
	return &Engine{
		bus:      bus,
		manager:  manager,
		triggers: NewTriggerEvaluator(states, tmpl, now),
		conds:    NewConditionEvaluator(states, tmpl, now),
		executor: executor,
		now:      now,
		traces:   NewTraceStore(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
		cancels:  make(map[string]*cancelHandle),
	}
}

// Traces returns the stored execution traces for automationID, oldest
// first, bounded by that automation's TraceConfig.StoredTraces.
func (e *Engine) Traces(automationID string) []Trace {
	return e.traces.Recent(automationID)
}

// LatestTrace returns the most recent execution trace for automationID.
func (e *Engine) LatestTrace(automationID string) (Trace, bool) {
	return e.traces.Latest(automationID)
}

// Start begins the event-processing loop in a background goroutine.
func (e *Engine) Start() {
	go e.run()
}

// Stop signals the loop to exit and blocks until it has.
func (e *Engine) Stop() {
	close(e.stopCh)
	<-e.doneCh
}

func (e *Engine) run() {
	defer close(e.doneCh)
	sub := e.bus.SubscribeAll()
	defer e.bus.Unsubscribe("", sub)

	logger := log.WithComponent("automation_engine")
	logger.Info().Msg("automation engine started")
	e.fireLifecycle(HassStart)

	ticker := time.NewTicker(clockTickInterval)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return
			}
			e.processEvent(evt)
		case tick := <-ticker.C:
			e.processClockTick(tick)
		case <-e.stopCh:
			e.fireLifecycle(HassShutdown)
			logger.Info().Msg("automation engine stopped")
			return
		}
	}
}

func (e *Engine) processEvent(evt *core.Event) {
	logger := log.WithComponent("automation_engine")
	for _, a := range e.manager.All() {
		if !a.Enabled {
			continue
		}
		for _, trig := range a.Triggers {
			data, err := e.triggers.Evaluate(trig, evt)
			if err != nil {
				logger.Warn().Err(err).Str("automation_id", a.ID).Msg("trigger evaluation failed")
				continue
			}
			if data == nil {
				continue
			}
			go e.runAutomation(a.ID, *data)
		}
	}
}

// processClockTick checks every enabled automation's time/time_pattern
// triggers against now, dispatching any that match.
func (e *Engine) processClockTick(now time.Time) {
	for _, a := range e.manager.All() {
		if !a.Enabled {
			continue
		}
		for _, trig := range a.Triggers {
			data := e.triggers.EvaluateClock(trig, now)
			if data == nil {
				continue
			}
			go e.runAutomation(a.ID, *data)
		}
	}
}

// fireLifecycle dispatches every homeassistant trigger matching event,
// called directly from Start/Stop rather than through the bus.
func (e *Engine) fireLifecycle(event HassEvent) {
	now := e.now()
	for _, a := range e.manager.All() {
		if !a.Enabled {
			continue
		}
		for _, trig := range a.Triggers {
			data := e.triggers.EvaluateLifecycle(trig, event, now)
			if data == nil {
				continue
			}
			go e.runAutomation(a.ID, *data)
		}
	}
}

// Trigger manually fires automation id with the given trigger data,
// bypassing event matching. Used for service-call-driven manual runs
// (automation.trigger).
func (e *Engine) Trigger(automationID string, data *TriggerData) error {
	a, ok := e.manager.Get(automationID)
	if !ok {
		return errNotFound(automationID)
	}
	if !a.Enabled {
		return errDisabled(automationID)
	}
	td := data
	if td == nil {
		v := NewTriggerData("manual", e.now())
		td = &v
	}
	go e.runAutomation(automationID, *td)
	return nil
}

func (e *Engine) runAutomation(id string, trig TriggerData) {
	logger := log.WithAutomationID(id)

	admitted, err := e.manager.TryAdmit(id)
	if err != nil {
		logger.Warn().Err(err).Msg("automation vanished before admission")
		return
	}
	if !admitted {
		a, _ := e.manager.Get(id)
		metrics.AutomationRejectedTotal.WithLabelValues(id, a.Mode.Kind).Inc()
		logger.Debug().Msg("run rejected by execution mode")
		return
	}

	metrics.AutomationsRunning.Inc()
	defer func() {
		metrics.AutomationsRunning.Dec()
		e.manager.DecrementRuns(id)
	}()

	e.manager.MarkTriggered(id)

	a, ok := e.manager.Get(id)
	if !ok {
		return
	}

	trace := &Trace{AutomationID: id, TriggeredAt: trig.TriggeredAt}
	trace.recordTrigger(trig.Platform, trig.TriggeredAt)
	defer func() {
		trace.FinishedAt = e.now()
		e.traces.Record(id, a.TraceConfig.StoredTraces, trace)
	}()

	ok2, err := e.conds.EvaluateAll(a.Conditions, &trig)
	if err != nil {
		logger.Warn().Err(err).Msg("condition evaluation failed")
		metrics.AutomationRunsTotal.WithLabelValues(id, "condition_error").Inc()
		trace.Error = err.Error()
		return
	}
	trace.recordCondition(len(a.Conditions), ok2, e.now())
	if !ok2 {
		metrics.AutomationRunsTotal.WithLabelValues(id, "condition_failed").Inc()
		return
	}

	ctx := context.Background()
	if a.Mode.Kind == "restart" {
		var cancel context.CancelFunc
		ctx, cancel = context.WithCancel(ctx)
		handle := &cancelHandle{cancel: cancel}

		e.mu.Lock()
		if prev, exists := e.cancels[id]; exists {
			prev.cancel()
		}
		e.cancels[id] = handle
		e.mu.Unlock()

		defer func() {
			e.mu.Lock()
			if e.cancels[id] == handle {
				delete(e.cancels, id)
			}
			e.mu.Unlock()
			cancel()
		}()
	}

	var execErr error
	if te, ok := e.executor.(TracingExecutor); ok {
		execErr = te.ExecuteTraced(ctx, a.Actions, &trig, a.Variables, trace)
	} else {
		execErr = e.executor.Execute(ctx, a.Actions, &trig, a.Variables)
	}
	if execErr != nil {
		trace.Error = execErr.Error()
		if ctx.Err() != nil {
			logger.Debug().Msg("automation run canceled by a restart")
			metrics.AutomationRunsTotal.WithLabelValues(id, "canceled").Inc()
			return
		}
		logger.Error().Err(execErr).Msg("automation run failed")
		metrics.AutomationRunsTotal.WithLabelValues(id, "error").Inc()
		return
	}
	metrics.AutomationRunsTotal.WithLabelValues(id, "success").Inc()
}

type notFoundError string

func (e notFoundError) Error() string { return "automation: not found " + string(e) }

func errNotFound(id string) error { return notFoundError(id) }

type disabledError string

func (e disabledError) Error() string { return "automation: disabled " + string(e) }

func errDisabled(id string) error { return disabledError(id) }
