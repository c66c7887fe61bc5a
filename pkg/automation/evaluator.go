package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/state"
	"github.com/cuemby/hassd/pkg/template"
)

// TriggerData carries the identity and bound variables of whichever
// trigger fired, threaded through condition evaluation and into the
// action executor's template context as `trigger.*`.
type TriggerData struct {
	ID          string
	Platform    string
	Variables   map[string]template.Value
	TriggeredAt time.Time
}

// NewTriggerData starts a TriggerData for the given platform.
func NewTriggerData(platform string, now time.Time) TriggerData {
	return TriggerData{
		Platform:    platform,
		Variables:   make(map[string]template.Value),
		TriggeredAt: now,
	}
}

// WithID sets the originating trigger's id.
func (d TriggerData) WithID(id string) TriggerData {
	d.ID = id
	return d
}

// WithVar binds an additional variable, returning the updated copy.
func (d TriggerData) WithVar(key string, val template.Value) TriggerData {
	next := make(map[string]template.Value, len(d.Variables)+1)
	for k, v := range d.Variables {
		next[k] = v
	}
	next[key] = val
	d.Variables = next
	return d
}

// TriggerEvaluator matches incoming events against configured triggers.
type TriggerEvaluator struct {
	states *state.Store
	tmpl   *template.Engine
	now    func() time.Time
}

// NewTriggerEvaluator builds an evaluator backed by the given state
// store and template engine.
func NewTriggerEvaluator(states *state.Store, tmpl *template.Engine, now func() time.Time) *TriggerEvaluator {
	return &TriggerEvaluator{states: states, tmpl: tmpl, now: now}
}

// Evaluate inspects event against trigger, returning TriggerData if the
// trigger fires for this event, or nil if it does not match.
func (ev *TriggerEvaluator) Evaluate(trigger Trigger, event *core.Event) (*TriggerData, error) {
	switch trigger.Kind {
	case "state":
		return ev.evalState(*trigger.State, event)
	case "event":
		return ev.evalEvent(*trigger.Event, event)
	case "template":
		return ev.evalTemplate(*trigger.Template, event)
	case "numeric_state":
		return ev.evalNumericState(*trigger.NumericState, event)
	case "time", "time_pattern", "homeassistant":
		// Clock-driven and lifecycle triggers never match a bus event;
		// the engine's clock tick and Start/Shutdown hooks dispatch them
		// through EvaluateClock/EvaluateLifecycle instead (see engine.go).
		return nil, nil
	default:
		// zone/sun/webhook depend on runtime facilities this module
		// doesn't model (zone geometry, solar ephemeris, an HTTP ingress
		// for webhook delivery); they parse but can never fire.
		return nil, nil
	}
}

// EvaluateClock checks a clock-driven trigger (time, time_pattern)
// against the current wall-clock time, called once per engine tick
// rather than per bus event.
func (ev *TriggerEvaluator) EvaluateClock(trigger Trigger, now time.Time) *TriggerData {
	switch trigger.Kind {
	case "time":
		return ev.evalTime(*trigger.Time, now)
	case "time_pattern":
		return ev.evalTimePattern(*trigger.TimePattern, now)
	default:
		return nil
	}
}

// EvaluateLifecycle checks a homeassistant trigger against a lifecycle
// event (start/shutdown), called directly from the engine's Start/Stop.
func (ev *TriggerEvaluator) EvaluateLifecycle(trigger Trigger, event HassEvent, now time.Time) *TriggerData {
	if trigger.Kind != "homeassistant" || trigger.Homeassistant == nil {
		return nil
	}
	if trigger.Homeassistant.Event != event {
		return nil
	}
	td := NewTriggerData("homeassistant", now).WithID(derefStr(trigger.Homeassistant.ID))
	return &td
}

func (ev *TriggerEvaluator) evalTime(tr TimeTrigger, now time.Time) *TriggerData {
	target, ok := resolveTimeOfDay(tr.At, ev.states)
	if !ok || timeOfDay(now) != target {
		return nil
	}
	td := NewTriggerData("time", now).WithID(derefStr(tr.ID))
	return &td
}

func (ev *TriggerEvaluator) evalTimePattern(tr TimePatternTrigger, now time.Time) *TriggerData {
	if tr.Hours == nil && tr.Minutes == nil && tr.Seconds == nil {
		return nil
	}
	if !matchesPatternField(tr.Hours, now.Hour()) {
		return nil
	}
	if !matchesPatternField(tr.Minutes, now.Minute()) {
		return nil
	}
	if !matchesPatternField(tr.Seconds, now.Second()) {
		return nil
	}
	td := NewTriggerData("time_pattern", now).WithID(derefStr(tr.ID))
	return &td
}

// resolveTimeOfDay resolves a TimeSpec to a duration-since-midnight,
// reading the referenced entity's state when the spec isn't a literal
// clock time. It accepts either a bare "HH:MM:SS" state (input_datetime)
// or a full RFC3339 timestamp, falling back to false if neither parses.
func resolveTimeOfDay(spec TimeSpec, states *state.Store) (time.Duration, bool) {
	if spec.Fixed != nil {
		return *spec.Fixed, true
	}
	st, ok := states.Get(core.EntityID(spec.EntityID))
	if !ok {
		return 0, false
	}
	if d, err := parseClockTime(st.State); err == nil {
		return d, true
	}
	if t, err := time.Parse(time.RFC3339, st.State); err == nil {
		return timeOfDay(t), true
	}
	return 0, false
}

// timeOfDay returns t's duration-since-midnight in its own location.
func timeOfDay(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute + time.Duration(t.Second())*time.Second
}

// matchesPatternField reports whether value matches a time_pattern
// field: nil matches any value, "*" matches any value, "/N" matches
// every Nth value starting from 0, and a bare number matches exactly.
func matchesPatternField(pattern *string, value int) bool {
	if pattern == nil || *pattern == "*" {
		return true
	}
	p := *pattern
	if strings.HasPrefix(p, "/") {
		n, err := strconv.Atoi(p[1:])
		if err != nil || n <= 0 {
			return false
		}
		return value%n == 0
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return false
	}
	return value == n
}

func (ev *TriggerEvaluator) evalState(tr StateTrigger, event *core.Event) (*TriggerData, error) {
	if event.EventType != core.EventStateChanged {
		return nil, nil
	}
	var data core.StateChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("automation: decode state_changed: %w", err)
	}
	if !containsEntity(tr.EntityID.IDs, string(data.EntityID)) {
		return nil, nil
	}

	oldVal, newVal := "", ""
	if data.OldState != nil {
		oldVal = data.OldState.State
	}
	if data.NewState != nil {
		newVal = data.NewState.State
	}

	if tr.Attribute != nil {
		oldVal = attrString(data.OldState, *tr.Attribute)
		newVal = attrString(data.NewState, *tr.Attribute)
	}

	for _, v := range tr.NotFrom {
		if v == oldVal {
			return nil, nil
		}
	}
	for _, v := range tr.NotTo {
		if v == newVal {
			return nil, nil
		}
	}
	if tr.From != nil && !tr.From.Matches(oldVal) {
		return nil, nil
	}
	if tr.To != nil && !tr.To.Matches(newVal) {
		return nil, nil
	}

	td := NewTriggerData("state", ev.now()).WithID(derefStr(tr.ID))
	td = td.WithVar("entity_id", template.String(string(data.EntityID)))
	td = td.WithVar("from_state", template.String(oldVal))
	td = td.WithVar("to_state", template.String(newVal))
	return &td, nil
}

func (ev *TriggerEvaluator) evalEvent(tr EventTrigger, event *core.Event) (*TriggerData, error) {
	if event.EventType != tr.EventType {
		return nil, nil
	}
	if tr.EventData != nil {
		var want map[string]json.RawMessage
		if err := json.Unmarshal(tr.EventData, &want); err != nil {
			return nil, fmt.Errorf("automation: decode event_data filter: %w", err)
		}
		var got map[string]json.RawMessage
		_ = json.Unmarshal(event.Data, &got)
		for k, v := range want {
			gv, ok := got[k]
			if !ok || string(gv) != string(v) {
				return nil, nil
			}
		}
	}
	if tr.Context != nil && tr.Context.UserID != nil {
		if event.Context.UserID == nil || *event.Context.UserID != *tr.Context.UserID {
			return nil, nil
		}
	}
	td := NewTriggerData("event", ev.now()).WithID(derefStr(tr.ID))
	return &td, nil
}

func (ev *TriggerEvaluator) evalTemplate(tr TemplateTrigger, event *core.Event) (*TriggerData, error) {
	ok, err := ev.tmpl.EvalBool(tr.ValueTemplate, nil)
	if err != nil {
		return nil, fmt.Errorf("automation: template trigger: %w", err)
	}
	if !ok {
		return nil, nil
	}
	td := NewTriggerData("template", ev.now()).WithID(derefStr(tr.ID))
	return &td, nil
}

func (ev *TriggerEvaluator) evalNumericState(tr NumericStateTrigger, event *core.Event) (*TriggerData, error) {
	if event.EventType != core.EventStateChanged {
		return nil, nil
	}
	var data core.StateChangedData
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, fmt.Errorf("automation: decode state_changed: %w", err)
	}
	if !containsEntity(tr.EntityID.IDs, string(data.EntityID)) {
		return nil, nil
	}
	if data.NewState == nil {
		return nil, nil
	}

	val, ok := ev.numericValue(*data.NewState, tr.Attribute, tr.ValueTemplate)
	if !ok {
		return nil, nil
	}

	if !ev.passesThreshold(val, tr.Above, tr.Below) {
		return nil, nil
	}

	td := NewTriggerData("numeric_state", ev.now()).WithID(derefStr(tr.ID))
	td = td.WithVar("entity_id", template.String(string(data.EntityID)))
	return &td, nil
}

func (ev *TriggerEvaluator) numericValue(st core.State, attribute *string, valueTemplate *string) (float64, bool) {
	if valueTemplate != nil {
		v, err := ev.tmpl.EvalValue(*valueTemplate, nil)
		if err != nil {
			return 0, false
		}
		return v.AsFloat()
	}
	raw := st.State
	if attribute != nil {
		raw = attrString(&st, *attribute)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (ev *TriggerEvaluator) passesThreshold(val float64, above, below *NumericValue) bool {
	if above != nil {
		threshold, ok := ev.resolveNumeric(*above)
		if !ok || val <= threshold {
			return false
		}
	}
	if below != nil {
		threshold, ok := ev.resolveNumeric(*below)
		if !ok || val >= threshold {
			return false
		}
	}
	return true
}

func (ev *TriggerEvaluator) resolveNumeric(v NumericValue) (float64, bool) {
	if v.Literal != nil {
		return *v.Literal, true
	}
	st, ok := ev.states.Get(core.EntityID(v.EntityID))
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(st.State), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func attrString(st *core.State, attribute string) string {
	if st == nil {
		return ""
	}
	raw, ok := st.Attributes[attribute]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func containsEntity(ids []string, id string) bool {
	for _, want := range ids {
		if want == id {
			return true
		}
	}
	return false
}

// ConditionEvaluator checks configured conditions against current state.
type ConditionEvaluator struct {
	states *state.Store
	tmpl   *template.Engine
	now    func() time.Time
}

// NewConditionEvaluator builds an evaluator backed by the given state
// store, template engine, and clock (used by the time condition).
func NewConditionEvaluator(states *state.Store, tmpl *template.Engine, now func() time.Time) *ConditionEvaluator {
	return &ConditionEvaluator{states: states, tmpl: tmpl, now: now}
}

// EvaluateAll reports whether every condition in the slice passes (an
// empty slice always passes, matching the teacher's "no conditions
// means unconditional" rule).
func (ev *ConditionEvaluator) EvaluateAll(conditions []Condition, trig *TriggerData) (bool, error) {
	for _, c := range conditions {
		ok, err := ev.Evaluate(c, trig)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// Evaluate reports whether a single condition currently holds.
func (ev *ConditionEvaluator) Evaluate(c Condition, trig *TriggerData) (bool, error) {
	switch c.Kind {
	case "state":
		return ev.evalState(*c.State), nil
	case "numeric_state":
		return ev.evalNumericState(*c.NumericState), nil
	case "template":
		return ev.tmpl.EvalBool(c.Template.ValueTemplate, triggerVars(trig))
	case "trigger":
		return trig != nil && trig.ID == c.Trigger.ID, nil
	case "and":
		return ev.EvaluateAll(c.And.Conditions, trig)
	case "or":
		for _, sub := range c.Or.Conditions {
			ok, err := ev.Evaluate(sub, trig)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case "not":
		ok, err := ev.Evaluate(*c.Not.Condition, trig)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "time":
		return ev.evalTime(*c.Time), nil
	case "zone", "sun", "device":
		// Location, solar-position, and device-specific conditions depend
		// on runtime facilities (zone geometry, sun ephemeris, device
		// registry) not modeled in this package; they are treated as
		// unmet rather than erroring so an automation referencing one
		// simply never fires via that branch.
		return false, nil
	default:
		return false, fmt.Errorf("automation: unknown condition kind %q", c.Kind)
	}
}

func (ev *ConditionEvaluator) evalTime(c TimeCondition) bool {
	now := ev.now()
	if c.After != nil {
		after, ok := resolveTimeOfDay(*c.After, ev.states)
		if !ok || timeOfDay(now) < after {
			return false
		}
	}
	if c.Before != nil {
		before, ok := resolveTimeOfDay(*c.Before, ev.states)
		if !ok || timeOfDay(now) > before {
			return false
		}
	}
	if len(c.Weekday) > 0 && !matchesWeekday(c.Weekday, now) {
		return false
	}
	return true
}

func matchesWeekday(days []WeekdaySpec, now time.Time) bool {
	want := weekdayAbbrev(now.Weekday())
	for _, d := range days {
		if d == want {
			return true
		}
	}
	return false
}

func weekdayAbbrev(w time.Weekday) WeekdaySpec {
	switch w {
	case time.Monday:
		return Mon
	case time.Tuesday:
		return Tue
	case time.Wednesday:
		return Wed
	case time.Thursday:
		return Thu
	case time.Friday:
		return Fri
	case time.Saturday:
		return Sat
	default:
		return Sun
	}
}

func (ev *ConditionEvaluator) evalState(c StateCondition) bool {
	for _, id := range c.EntityID.IDs {
		st, ok := ev.states.Get(core.EntityID(id))
		if !ok {
			return false
		}
		val := st.State
		if c.Attribute != nil {
			val = attrString(&st, *c.Attribute)
		}
		if !c.State.Matches(val) {
			return false
		}
	}
	return true
}

func (ev *ConditionEvaluator) evalNumericState(c NumericStateCondition) bool {
	for _, id := range c.EntityID.IDs {
		st, ok := ev.states.Get(core.EntityID(id))
		if !ok {
			return false
		}
		var val float64
		var err error
		raw := st.State
		if c.Attribute != nil {
			raw = attrString(&st, *c.Attribute)
		}
		val, err = strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return false
		}
		if c.Above != nil {
			th, ok := ev.resolveNumeric(*c.Above)
			if !ok || val <= th {
				return false
			}
		}
		if c.Below != nil {
			th, ok := ev.resolveNumeric(*c.Below)
			if !ok || val >= th {
				return false
			}
		}
	}
	return true
}

func (ev *ConditionEvaluator) resolveNumeric(v NumericValue) (float64, bool) {
	if v.Literal != nil {
		return *v.Literal, true
	}
	st, ok := ev.states.Get(core.EntityID(v.EntityID))
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(st.State), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func triggerVars(trig *TriggerData) map[string]template.Value {
	if trig == nil {
		return nil
	}
	vars := make(map[string]template.Value, len(trig.Variables)+1)
	for k, v := range trig.Variables {
		vars[k] = v
	}
	vars["trigger"] = template.Dict(map[string]template.Value{
		"id":       template.String(trig.ID),
		"platform": template.String(trig.Platform),
	})
	return vars
}
