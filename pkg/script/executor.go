package script

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/hassd/internal/metrics"
	"github.com/cuemby/hassd/pkg/automation"
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/events"
	"github.com/cuemby/hassd/pkg/service"
	"github.com/cuemby/hassd/pkg/state"
	"github.com/cuemby/hassd/pkg/template"
)

// ExecutionContext carries the variables visible to the rest of an
// action sequence: the trigger that started it (if any) and whatever
// `variables:`/`response_variable:` actions have bound so far. Actions
// mutate Variables in place as they run, the way the Rust executor
// threads a single mutable context through the whole sequence.
type ExecutionContext struct {
	Trigger   *automation.TriggerData
	Variables map[string]template.Value

	// trace, when set, receives a RecordAction call after every
	// top-level action dispatch (including nested ones reached through
	// choose/if/repeat/parallel), feeding Engine's per-run trace buffer.
	trace automation.TraceRecorder
}

// NewExecutionContext starts an empty context.
func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{Variables: make(map[string]template.Value)}
}

// WithTrigger seeds a context from an originating trigger match.
func WithTrigger(trig *automation.TriggerData) *ExecutionContext {
	ec := NewExecutionContext()
	ec.Trigger = trig
	if trig != nil {
		for k, v := range trig.Variables {
			ec.Variables[k] = v
		}
	}
	return ec
}

func (ec *ExecutionContext) templateVars() map[string]template.Value {
	vars := make(map[string]template.Value, len(ec.Variables)+1)
	for k, v := range ec.Variables {
		vars[k] = v
	}
	if ec.Trigger != nil {
		vars["trigger"] = template.Dict(map[string]template.Value{
			"id":       template.String(ec.Trigger.ID),
			"platform": template.String(ec.Trigger.Platform),
		})
	}
	return vars
}

// stopSignal unwinds a running sequence when a `stop:` action fires. A
// stop with error=false is a normal, successful early return; one with
// error=true propagates as a real failure.
type stopSignal struct {
	reason string
	isErr  bool
}

func (s *stopSignal) Error() string { return s.reason }

// Executor walks an action sequence against live collaborators: calling
// services, rendering templates, waiting on the event bus, and
// recursing into composite actions (choose/if/repeat/sequence/parallel).
type Executor struct {
	states   *state.Store
	services *service.Registry
	tmpl     *template.Engine
	bus      *events.Broker
	triggers *automation.TriggerEvaluator
	now      func() time.Time
}

// NewExecutor wires an Executor from its collaborators.
func NewExecutor(states *state.Store, services *service.Registry, tmpl *template.Engine, bus *events.Broker, now func() time.Time) *Executor {
	return &Executor{
		states:   states,
		services: services,
		tmpl:     tmpl,
		bus:      bus,
		triggers: automation.NewTriggerEvaluator(states, tmpl, now),
		now:      now,
	}
}

// Execute runs actions (raw JSON action objects) in order, implementing
// automation.Executor so an *automation.Engine can dispatch runs
// directly into a script Executor.
func (e *Executor) Execute(ctx context.Context, actions []json.RawMessage, trig *automation.TriggerData, variables json.RawMessage) error {
	return e.ExecuteTraced(ctx, actions, trig, variables, nil)
}

// ExecuteTraced runs actions like Execute, additionally reporting each
// action's outcome (nested ones included) to rec as it runs. Implements
// automation.TracingExecutor; rec may be nil.
func (e *Executor) ExecuteTraced(ctx context.Context, actions []json.RawMessage, trig *automation.TriggerData, variables json.RawMessage, rec automation.TraceRecorder) error {
	execCtx := WithTrigger(trig)
	execCtx.trace = rec
	if len(variables) > 0 {
		var vars map[string]json.RawMessage
		if err := json.Unmarshal(variables, &vars); err == nil {
			for k, raw := range vars {
				execCtx.Variables[k] = rawToValue(raw)
			}
		}
	}
	return e.runSequence(ctx, actions, execCtx)
}

func (e *Executor) runSequence(ctx context.Context, raws []json.RawMessage, execCtx *ExecutionContext) error {
	for _, raw := range raws {
		var action Action
		if err := json.Unmarshal(raw, &action); err != nil {
			return fmt.Errorf("script: decode action: %w", err)
		}
		if err := e.runOne(ctx, action, execCtx); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runOne(ctx context.Context, action Action, execCtx *ExecutionContext) error {
	if !action.Enabled() {
		return nil
	}

	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.ScriptActionDuration, action.Kind)

	err := e.dispatch(ctx, action, execCtx)
	if execCtx.trace != nil {
		execCtx.trace.RecordAction(action.Kind, traceErr(err))
	}
	return err
}

// traceErr suppresses a non-error stop (stop: with error: false, or a
// failed condition action short-circuiting a sequence) from showing up
// as a failed step in the trace — both are normal early returns, not
// execution failures.
func traceErr(err error) error {
	if ss, ok := err.(*stopSignal); ok && !ss.isErr {
		return nil
	}
	return err
}

func (e *Executor) dispatch(ctx context.Context, action Action, execCtx *ExecutionContext) error {
	switch action.Kind {
	case "service":
		return e.runService(ctx, *action.Service, execCtx)
	case "delay":
		return e.runDelay(ctx, *action.Delay, execCtx)
	case "wait_for_trigger":
		return e.runWaitForTrigger(ctx, *action.WaitForTrigger, execCtx)
	case "wait_template":
		return e.runWaitTemplate(ctx, *action.WaitTemplate, execCtx)
	case "variables":
		return e.runVariables(*action.Variables, execCtx)
	case "choose":
		return e.runChoose(ctx, *action.Choose, execCtx)
	case "if":
		return e.runIf(ctx, *action.If, execCtx)
	case "repeat":
		return e.runRepeat(ctx, *action.Repeat, execCtx)
	case "sequence":
		return e.runSequence(ctx, action.Sequence.Sequence, execCtx)
	case "parallel":
		return e.runParallel(ctx, *action.Parallel, execCtx)
	case "condition":
		return e.runCondition(*action.Condition, execCtx)
	case "stop":
		return &stopSignal{reason: action.Stop.Stop, isErr: action.Stop.Error}
	case "event":
		return e.runEvent(*action.Event, execCtx)
	case "scene":
		return e.runScene(ctx, *action.Scene)
	default:
		return fmt.Errorf("script: unhandled action kind %q", action.Kind)
	}
}

func (e *Executor) runService(ctx context.Context, a ServiceAction, execCtx *ExecutionContext) error {
	domain, svc, err := splitService(a.Service)
	if err != nil {
		return err
	}
	data := make(map[string]json.RawMessage, len(a.Data)+1)
	for k, v := range a.Data {
		rendered, err := e.renderDataValue(v, execCtx)
		if err != nil {
			return fmt.Errorf("script: render data.%s: %w", k, err)
		}
		data[k] = rendered
	}
	if a.Target != nil && !a.Target.IsEmpty() {
		targetRaw, err := json.Marshal(a.Target)
		if err == nil {
			data["target"] = targetRaw
		}
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("script: encode service data: %w", err)
	}
	svcCtx := core.Context{ID: ""}
	resp, err := e.services.Call(ctx, domain, svc, payload, svcCtx, a.ResponseVariable != "")
	if err != nil {
		return fmt.Errorf("script: service call %s.%s: %w", domain, svc, err)
	}
	if a.ResponseVariable != "" {
		execCtx.Variables[a.ResponseVariable] = rawToValue(resp)
	}
	return nil
}

func (e *Executor) runDelay(ctx context.Context, a DelayAction, execCtx *ExecutionContext) error {
	d, err := e.resolveDelay(a.Delay, execCtx)
	if err != nil {
		return err
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) resolveDelay(spec DelaySpec, execCtx *ExecutionContext) (time.Duration, error) {
	if spec.IsTemplate() {
		val, err := e.tmpl.EvalValue(spec.Template, execCtx.templateVars())
		if err != nil {
			return 0, fmt.Errorf("script: delay template: %w", err)
		}
		if f, ok := val.AsFloat(); ok {
			return time.Duration(f * float64(time.Second)), nil
		}
		d, err := automation.ParseDuration(val.String())
		if err != nil {
			return 0, fmt.Errorf("script: delay template did not produce a duration: %w", err)
		}
		return d, nil
	}
	return time.Duration(spec.Hours)*time.Hour +
		time.Duration(spec.Minutes)*time.Minute +
		time.Duration(spec.Seconds)*time.Second +
		time.Duration(spec.Milliseconds)*time.Millisecond, nil
}

func (e *Executor) runWaitForTrigger(ctx context.Context, a WaitForTriggerAction, execCtx *ExecutionContext) error {
	sub := e.bus.SubscribeAll()
	defer e.bus.Unsubscribe("", sub)

	var deadline <-chan time.Time
	if a.Timeout != nil {
		d, err := automation.ParseDuration(*a.Timeout)
		if err != nil {
			return fmt.Errorf("script: wait_for_trigger timeout: %w", err)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}

	for {
		select {
		case evt, ok := <-sub:
			if !ok {
				return fmt.Errorf("script: event bus closed while waiting")
			}
			for _, tr := range a.WaitForTrigger {
				data, err := e.triggers.Evaluate(tr, evt)
				if err != nil {
					continue
				}
				if data != nil {
					execCtx.Trigger = data
					for k, v := range data.Variables {
						execCtx.Variables[k] = v
					}
					return nil
				}
			}
		case <-deadline:
			if a.continueOnTimeout() {
				return nil
			}
			return fmt.Errorf("script: wait_for_trigger timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) runWaitTemplate(ctx context.Context, a WaitTemplateAction, execCtx *ExecutionContext) error {
	var deadline <-chan time.Time
	if a.Timeout != nil {
		d, err := automation.ParseDuration(*a.Timeout)
		if err != nil {
			return fmt.Errorf("script: wait_template timeout: %w", err)
		}
		t := time.NewTimer(d)
		defer t.Stop()
		deadline = t.C
	}

	poll := time.NewTicker(250 * time.Millisecond)
	defer poll.Stop()

	check := func() (bool, error) { return e.tmpl.EvalBool(a.WaitTemplate, execCtx.templateVars()) }

	if ok, err := check(); err != nil {
		return fmt.Errorf("script: wait_template: %w", err)
	} else if ok {
		return nil
	}

	for {
		select {
		case <-poll.C:
			ok, err := check()
			if err != nil {
				return fmt.Errorf("script: wait_template: %w", err)
			}
			if ok {
				return nil
			}
		case <-deadline:
			if a.continueOnTimeout() {
				return nil
			}
			return fmt.Errorf("script: wait_template timed out")
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Executor) runVariables(a VariablesAction, execCtx *ExecutionContext) error {
	for k, raw := range a.Variables {
		val, err := e.renderIfTemplateString(raw, execCtx)
		if err != nil {
			return fmt.Errorf("script: variable %q: %w", k, err)
		}
		execCtx.Variables[k] = val
	}
	return nil
}

// templateBraces extracts the inner expression of a full-string "{{ ... }}"
// template, the shape HA YAML uses for value templates embedded in data
// fields. A string without both delimiters is returned unchanged with ok=false.
func templateBraces(s string) (inner string, ok bool) {
	trimmed := strings.TrimSpace(s)
	if strings.HasPrefix(trimmed, "{{") && strings.HasSuffix(trimmed, "}}") {
		return strings.TrimSpace(trimmed[2 : len(trimmed)-2]), true
	}
	return s, false
}

func (e *Executor) renderIfTemplateString(raw json.RawMessage, execCtx *ExecutionContext) (template.Value, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return rawToValue(raw), nil
	}
	if inner, ok := templateBraces(s); ok {
		return e.tmpl.EvalValue(inner, execCtx.templateVars())
	}
	return template.String(s), nil
}

// renderDataValue renders any "{{ ... }}"-wrapped string found in a
// service-call data value, leaving non-template JSON untouched.
func (e *Executor) renderDataValue(raw json.RawMessage, execCtx *ExecutionContext) (json.RawMessage, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return raw, nil
	}
	inner, ok := templateBraces(s)
	if !ok {
		return raw, nil
	}
	val, err := e.tmpl.EvalValue(inner, execCtx.templateVars())
	if err != nil {
		return nil, err
	}
	return valueToJSON(val), nil
}

// valueToJSON renders a rendered template value back into JSON for a
// service-call payload. Value has no exported kind accessor outside its
// own package, so every result is serialized through its string form —
// acceptable here since every service handler in this module parses its
// own data payload rather than relying on JSON's native number/string
// distinction.
func valueToJSON(v template.Value) json.RawMessage {
	b, _ := json.Marshal(v.String())
	return b
}

func (e *Executor) runChoose(ctx context.Context, a ChooseAction, execCtx *ExecutionContext) error {
	for _, option := range a.Choose {
		ok, err := e.evalConditions(option.Conditions, execCtx)
		if err != nil {
			return err
		}
		if ok {
			return e.runSequence(ctx, option.Sequence, execCtx)
		}
	}
	if len(a.Default) > 0 {
		return e.runSequence(ctx, a.Default, execCtx)
	}
	return nil
}

func (e *Executor) runIf(ctx context.Context, a IfAction, execCtx *ExecutionContext) error {
	ok, err := e.evalConditions(a.If, execCtx)
	if err != nil {
		return err
	}
	if ok {
		return e.runSequence(ctx, a.Then, execCtx)
	}
	return e.runSequence(ctx, a.Else, execCtx)
}

func (e *Executor) evalConditions(c ChooseConditions, execCtx *ExecutionContext) (bool, error) {
	if c.IsTemplate() {
		return e.tmpl.EvalBool(c.Template, execCtx.templateVars())
	}
	condEval := automation.NewConditionEvaluator(e.states, e.tmpl, e.now)
	return condEval.EvaluateAll(c.Conditions, execCtx.Trigger)
}

func (e *Executor) runRepeat(ctx context.Context, a RepeatAction, execCtx *ExecutionContext) error {
	cfg := a.Repeat
	condEval := automation.NewConditionEvaluator(e.states, e.tmpl, e.now)

	switch {
	case cfg.Count != nil:
		n, err := e.resolveCount(*cfg.Count, execCtx)
		if err != nil {
			return err
		}
		for i := int64(0); i < n; i++ {
			execCtx.Variables["repeat"] = template.Dict(map[string]template.Value{
				"index":     template.Int(i + 1),
				"first":     template.Bool(i == 0),
				"last":      template.Bool(i == n-1),
			})
			if err := e.runSequence(ctx, cfg.Sequence, execCtx); err != nil {
				return err
			}
		}
		return nil
	case cfg.ForEach != nil:
		var list []template.Value
		var asTemplate string
		if err := json.Unmarshal(cfg.ForEach, &asTemplate); err == nil {
			items, err := e.tmpl.EvalValue(asTemplate, execCtx.templateVars())
			if err != nil {
				return fmt.Errorf("script: repeat.for_each template: %w", err)
			}
			list, _ = items.Items()
		} else {
			var raw []json.RawMessage
			if jerr := json.Unmarshal(cfg.ForEach, &raw); jerr != nil {
				return fmt.Errorf("script: repeat.for_each: %w", jerr)
			}
			for _, r := range raw {
				list = append(list, rawToValue(r))
			}
		}
		for i, item := range list {
			execCtx.Variables["repeat_item"] = item
			execCtx.Variables["repeat"] = template.Dict(map[string]template.Value{
				"index": template.Int(int64(i) + 1),
				"first": template.Bool(i == 0),
				"last":  template.Bool(i == len(list)-1),
			})
			if err := e.runSequence(ctx, cfg.Sequence, execCtx); err != nil {
				return err
			}
		}
		return nil
	case cfg.While != nil:
		for {
			ok, err := condEval.EvaluateAll(cfg.While, execCtx.Trigger)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if err := e.runSequence(ctx, cfg.Sequence, execCtx); err != nil {
				return err
			}
		}
	case cfg.Until != nil:
		for {
			if err := e.runSequence(ctx, cfg.Sequence, execCtx); err != nil {
				return err
			}
			ok, err := condEval.EvaluateAll(cfg.Until, execCtx.Trigger)
			if err != nil {
				return err
			}
			if ok {
				return nil
			}
		}
	default:
		return fmt.Errorf("script: repeat has no count/for_each/while/until")
	}
}

func (e *Executor) resolveCount(c RepeatCount, execCtx *ExecutionContext) (int64, error) {
	if !c.IsTemplate() {
		return c.Number, nil
	}
	val, err := e.tmpl.EvalValue(c.Template, execCtx.templateVars())
	if err != nil {
		return 0, fmt.Errorf("script: repeat.count template: %w", err)
	}
	n, ok := val.AsInt()
	if !ok {
		return 0, fmt.Errorf("script: repeat.count template did not produce a number")
	}
	return n, nil
}

// runParallel runs every branch concurrently under a shared cancellable
// context: the first branch to fail cancels every sibling still running,
// matching the parallel action's "first failure cancels siblings" rule.
func (e *Executor) runParallel(ctx context.Context, a ParallelAction, execCtx *ExecutionContext) error {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, len(a.Parallel))
	for _, branch := range a.Parallel {
		branch := branch
		branchCtx := &ExecutionContext{Trigger: execCtx.Trigger, Variables: cloneVars(execCtx.Variables), trace: execCtx.trace}
		go func() {
			errCh <- e.runSequence(groupCtx, []json.RawMessage{branch}, branchCtx)
		}()
	}
	var firstErr error
	for range a.Parallel {
		if err := <-errCh; err != nil && firstErr == nil {
			firstErr = err
			cancel()
		}
	}
	return firstErr
}

func cloneVars(vars map[string]template.Value) map[string]template.Value {
	out := make(map[string]template.Value, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func (e *Executor) runCondition(a ConditionAction, execCtx *ExecutionContext) error {
	condEval := automation.NewConditionEvaluator(e.states, e.tmpl, e.now)
	ok, err := condEval.Evaluate(a.Condition, execCtx.Trigger)
	if err != nil {
		return fmt.Errorf("script: condition action: %w", err)
	}
	if !ok {
		return &stopSignal{reason: "condition not met", isErr: false}
	}
	return nil
}

func (e *Executor) runEvent(a EventAction, execCtx *ExecutionContext) error {
	data := make(map[string]any, len(a.EventData))
	for k, raw := range a.EventData {
		var v any
		_ = json.Unmarshal(raw, &v)
		data[k] = v
	}
	evt, err := core.NewEvent(a.Event, data, core.Context{}, e.now())
	if err != nil {
		return fmt.Errorf("script: fire event: %w", err)
	}
	e.bus.Fire(&evt)
	return nil
}

func (e *Executor) runScene(ctx context.Context, a SceneAction) error {
	data, err := json.Marshal(map[string]string{"entity_id": a.Scene})
	if err != nil {
		return err
	}
	_, err = e.services.Call(ctx, "scene", "turn_on", data, core.Context{}, false)
	return err
}

func splitService(full string) (domain, service string, err error) {
	for i, r := range full {
		if r == '.' {
			return full[:i], full[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("script: service %q missing domain separator", full)
}

func rawToValue(raw json.RawMessage) template.Value {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return template.String(string(raw))
	}
	return anyToValue(v)
}

func anyToValue(v any) template.Value {
	switch t := v.(type) {
	case nil:
		return template.None
	case bool:
		return template.Bool(t)
	case float64:
		if t == float64(int64(t)) {
			return template.Int(int64(t))
		}
		return template.Float(t)
	case string:
		return template.String(t)
	case []any:
		items := make([]template.Value, len(t))
		for i, item := range t {
			items[i] = anyToValue(item)
		}
		return template.List(items)
	case map[string]any:
		dict := make(map[string]template.Value, len(t))
		for k, item := range t {
			dict[k] = anyToValue(item)
		}
		return template.Dict(dict)
	default:
		return template.Undefined
	}
}
