// Package script implements the action-sequence language used by both
// automations and standalone scripts: service calls, delays, branching
// (choose/if), repetition, and composition (sequence/parallel), plus the
// executor that walks a sequence against live state, services and
// templates.
package script

import (
	"encoding/json"
	"fmt"

	"github.com/cuemby/hassd/pkg/automation"
)

// Target names the entities/devices/areas/floors/labels a service call
// addresses. Each field accepts either a single string or an array in
// the source JSON/YAML.
type Target struct {
	EntityID []string `json:"entity_id,omitempty"`
	DeviceID []string `json:"device_id,omitempty"`
	AreaID   []string `json:"area_id,omitempty"`
	FloorID  []string `json:"floor_id,omitempty"`
	LabelID  []string `json:"label_id,omitempty"`
}

// IsEmpty reports whether no target selector was specified at all.
func (t Target) IsEmpty() bool {
	return len(t.EntityID) == 0 && len(t.DeviceID) == 0 && len(t.AreaID) == 0 &&
		len(t.FloorID) == 0 && len(t.LabelID) == 0
}

type rawTarget struct {
	EntityID json.RawMessage `json:"entity_id,omitempty"`
	DeviceID json.RawMessage `json:"device_id,omitempty"`
	AreaID   json.RawMessage `json:"area_id,omitempty"`
	FloorID  json.RawMessage `json:"floor_id,omitempty"`
	LabelID  json.RawMessage `json:"label_id,omitempty"`
}

func (t *Target) UnmarshalJSON(data []byte) error {
	var raw rawTarget
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if t.EntityID, err = stringOrVec(raw.EntityID); err != nil {
		return fmt.Errorf("target.entity_id: %w", err)
	}
	if t.DeviceID, err = stringOrVec(raw.DeviceID); err != nil {
		return fmt.Errorf("target.device_id: %w", err)
	}
	if t.AreaID, err = stringOrVec(raw.AreaID); err != nil {
		return fmt.Errorf("target.area_id: %w", err)
	}
	if t.FloorID, err = stringOrVec(raw.FloorID); err != nil {
		return fmt.Errorf("target.floor_id: %w", err)
	}
	if t.LabelID, err = stringOrVec(raw.LabelID); err != nil {
		return fmt.Errorf("target.label_id: %w", err)
	}
	return nil
}

// stringOrVec accepts a single string or a string array, the flexible
// shape the teacher's own JSON ports use for HA's string_or_vec helper.
func stringOrVec(data json.RawMessage) ([]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// DelaySpec is either a template string or a fixed set of duration
// components.
type DelaySpec struct {
	Template   string
	Hours      int64
	Minutes    int64
	Seconds    int64
	Milliseconds int64
	isTemplate bool
}

func (d *DelaySpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		d.Template = s
		d.isTemplate = true
		return nil
	}
	var comps struct {
		Hours        int64 `json:"hours"`
		Minutes      int64 `json:"minutes"`
		Seconds      int64 `json:"seconds"`
		Milliseconds int64 `json:"milliseconds"`
	}
	if err := json.Unmarshal(data, &comps); err != nil {
		return fmt.Errorf("delay: expected template string or duration components: %w", err)
	}
	d.Hours, d.Minutes, d.Seconds, d.Milliseconds = comps.Hours, comps.Minutes, comps.Seconds, comps.Milliseconds
	return nil
}

// IsTemplate reports whether the delay must be resolved via template
// rendering rather than read directly from fixed components.
func (d DelaySpec) IsTemplate() bool { return d.isTemplate }

// RepeatCount is either a literal count or a template string producing one.
type RepeatCount struct {
	Number   int64
	Template string
	isTemplate bool
}

func (c *RepeatCount) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		c.Number = n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("repeat.count: expected number or template string: %w", err)
	}
	c.Template = s
	c.isTemplate = true
	return nil
}

// IsTemplate reports whether the count must be resolved via rendering.
func (c RepeatCount) IsTemplate() bool { return c.isTemplate }

// ChooseConditions is either an inline template string or a list of
// structured conditions guarding a choose/if branch.
type ChooseConditions struct {
	Template   string
	Conditions []automation.Condition
	isTemplate bool
}

func (c *ChooseConditions) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Template = s
		c.isTemplate = true
		return nil
	}
	var list []automation.Condition
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("conditions: expected template string or condition array: %w", err)
	}
	c.Conditions = list
	return nil
}

// IsTemplate reports whether the guard must be resolved via rendering.
func (c ChooseConditions) IsTemplate() bool { return c.isTemplate }

// RepeatConfig is the untagged union of the four `repeat:` shapes.
type RepeatConfig struct {
	Count    *RepeatCount           `json:"count,omitempty"`
	ForEach  json.RawMessage        `json:"for_each,omitempty"`
	While    []automation.Condition `json:"while,omitempty"`
	Until    []automation.Condition `json:"until,omitempty"`
	Sequence []json.RawMessage      `json:"sequence"`
}

// ChooseOption is a single `choose:` branch: a guard plus the actions
// to run when it passes.
type ChooseOption struct {
	Conditions ChooseConditions  `json:"conditions"`
	Sequence   []json.RawMessage `json:"sequence"`
}

// Action is the tagged-by-shape union of the 14 action kinds. Unlike
// Trigger/Condition, HA actions are NOT discriminated by an explicit
// type field — the action's shape (which key is present) determines its
// kind, so decoding probes each known key in a fixed priority order.
type Action struct {
	Kind string

	Service        *ServiceAction
	Delay          *DelayAction
	WaitForTrigger *WaitForTriggerAction
	WaitTemplate   *WaitTemplateAction
	Variables      *VariablesAction
	Choose         *ChooseAction
	If             *IfAction
	Repeat         *RepeatAction
	Sequence       *SequenceAction
	Parallel       *ParallelAction
	Condition      *ConditionAction
	Stop           *StopAction
	Event          *EventAction
	Scene          *SceneAction
}

type ServiceAction struct {
	Alias            string                     `json:"alias,omitempty"`
	Service          string                     `json:"service"`
	Target           *Target                    `json:"target,omitempty"`
	Data             map[string]json.RawMessage `json:"data,omitempty"`
	ResponseVariable string                     `json:"response_variable,omitempty"`
	Enabled          *bool                      `json:"enabled,omitempty"`
}

func (a ServiceAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type DelayAction struct {
	Alias   string    `json:"alias,omitempty"`
	Delay   DelaySpec `json:"delay"`
	Enabled *bool     `json:"enabled,omitempty"`
}

func (a DelayAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type WaitForTriggerAction struct {
	Alias             string                `json:"alias,omitempty"`
	WaitForTrigger    []automation.Trigger  `json:"wait_for_trigger"`
	Timeout           *string               `json:"timeout,omitempty"`
	ContinueOnTimeout *bool                 `json:"continue_on_timeout,omitempty"`
	Enabled           *bool                 `json:"enabled,omitempty"`
}

func (a WaitForTriggerAction) continueOnTimeout() bool {
	return a.ContinueOnTimeout == nil || *a.ContinueOnTimeout
}
func (a WaitForTriggerAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type WaitTemplateAction struct {
	Alias             string `json:"alias,omitempty"`
	WaitTemplate      string `json:"wait_template"`
	Timeout           *string `json:"timeout,omitempty"`
	ContinueOnTimeout *bool  `json:"continue_on_timeout,omitempty"`
	Enabled           *bool  `json:"enabled,omitempty"`
}

func (a WaitTemplateAction) continueOnTimeout() bool {
	return a.ContinueOnTimeout == nil || *a.ContinueOnTimeout
}
func (a WaitTemplateAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type VariablesAction struct {
	Alias     string                     `json:"alias,omitempty"`
	Variables map[string]json.RawMessage `json:"variables"`
	Enabled   *bool                      `json:"enabled,omitempty"`
}

func (a VariablesAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type ChooseAction struct {
	Alias   string             `json:"alias,omitempty"`
	Choose  []ChooseOption     `json:"choose"`
	Default []json.RawMessage  `json:"default,omitempty"`
	Enabled *bool              `json:"enabled,omitempty"`
}

func (a ChooseAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type IfAction struct {
	Alias   string            `json:"alias,omitempty"`
	If      ChooseConditions  `json:"if"`
	Then    []json.RawMessage `json:"then"`
	Else    []json.RawMessage `json:"else,omitempty"`
	Enabled *bool             `json:"enabled,omitempty"`
}

func (a IfAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type RepeatAction struct {
	Alias   string       `json:"alias,omitempty"`
	Repeat  RepeatConfig `json:"repeat"`
	Enabled *bool        `json:"enabled,omitempty"`
}

func (a RepeatAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type SequenceAction struct {
	Alias    string            `json:"alias,omitempty"`
	Sequence []json.RawMessage `json:"sequence"`
	Enabled  *bool             `json:"enabled,omitempty"`
}

func (a SequenceAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type ParallelAction struct {
	Alias    string            `json:"alias,omitempty"`
	Parallel []json.RawMessage `json:"parallel"`
	Enabled  *bool             `json:"enabled,omitempty"`
}

func (a ParallelAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type ConditionAction struct {
	Alias     string               `json:"alias,omitempty"`
	Condition automation.Condition `json:"-"`
	Enabled   *bool                `json:"enabled,omitempty"`
}

func (a ConditionAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type StopAction struct {
	Alias            string `json:"alias,omitempty"`
	Stop             string `json:"stop"`
	ResponseVariable string `json:"response_variable,omitempty"`
	Error            bool   `json:"error,omitempty"`
	Enabled          *bool  `json:"enabled,omitempty"`
}

func (a StopAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type EventAction struct {
	Alias     string                     `json:"alias,omitempty"`
	Event     string                     `json:"event"`
	EventData map[string]json.RawMessage `json:"event_data,omitempty"`
	Enabled   *bool                      `json:"enabled,omitempty"`
}

func (a EventAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

type SceneAction struct {
	Alias   string `json:"alias,omitempty"`
	Scene   string `json:"scene"`
	Enabled *bool  `json:"enabled,omitempty"`
}

func (a SceneAction) isEnabled() bool { return a.Enabled == nil || *a.Enabled }

// presenceProbe is used to sniff which key is present in a raw action
// object, the Go equivalent of serde's #[serde(untagged)] shape matching.
type presenceProbe struct {
	Service        *json.RawMessage `json:"service"`
	Delay          *json.RawMessage `json:"delay"`
	WaitForTrigger *json.RawMessage `json:"wait_for_trigger"`
	WaitTemplate   *json.RawMessage `json:"wait_template"`
	Variables      *json.RawMessage `json:"variables"`
	Choose         *json.RawMessage `json:"choose"`
	If             *json.RawMessage `json:"if"`
	Repeat         *json.RawMessage `json:"repeat"`
	Sequence       *json.RawMessage `json:"sequence"`
	Parallel       *json.RawMessage `json:"parallel"`
	Condition      *json.RawMessage `json:"condition"`
	Stop           *json.RawMessage `json:"stop"`
	Event          *json.RawMessage `json:"event"`
	Scene          *json.RawMessage `json:"scene"`
}

// UnmarshalJSON dispatches on whichever discriminating key is present,
// mirroring how serde resolves an untagged enum by trial deserialization
// but without the O(n) re-parse: a single presence probe picks the one
// variant to actually decode into.
func (a *Action) UnmarshalJSON(data []byte) error {
	var probe presenceProbe
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	switch {
	case probe.Service != nil:
		a.Kind = "service"
		a.Service = &ServiceAction{}
		return json.Unmarshal(data, a.Service)
	case probe.Delay != nil:
		a.Kind = "delay"
		a.Delay = &DelayAction{}
		return json.Unmarshal(data, a.Delay)
	case probe.WaitForTrigger != nil:
		a.Kind = "wait_for_trigger"
		a.WaitForTrigger = &WaitForTriggerAction{}
		return json.Unmarshal(data, a.WaitForTrigger)
	case probe.WaitTemplate != nil:
		a.Kind = "wait_template"
		a.WaitTemplate = &WaitTemplateAction{}
		return json.Unmarshal(data, a.WaitTemplate)
	case probe.Choose != nil:
		a.Kind = "choose"
		a.Choose = &ChooseAction{}
		return json.Unmarshal(data, a.Choose)
	case probe.If != nil:
		a.Kind = "if"
		a.If = &IfAction{}
		return json.Unmarshal(data, a.If)
	case probe.Repeat != nil:
		a.Kind = "repeat"
		a.Repeat = &RepeatAction{}
		return json.Unmarshal(data, a.Repeat)
	case probe.Sequence != nil:
		a.Kind = "sequence"
		a.Sequence = &SequenceAction{}
		return json.Unmarshal(data, a.Sequence)
	case probe.Parallel != nil:
		a.Kind = "parallel"
		a.Parallel = &ParallelAction{}
		return json.Unmarshal(data, a.Parallel)
	case probe.Stop != nil:
		a.Kind = "stop"
		a.Stop = &StopAction{}
		return json.Unmarshal(data, a.Stop)
	case probe.Scene != nil:
		a.Kind = "scene"
		a.Scene = &SceneAction{}
		return json.Unmarshal(data, a.Scene)
	case probe.Condition != nil:
		a.Kind = "condition"
		var cond automation.Condition
		if err := json.Unmarshal(data, &cond); err != nil {
			return err
		}
		var alias struct {
			Alias   string `json:"alias"`
			Enabled *bool  `json:"enabled"`
		}
		_ = json.Unmarshal(data, &alias)
		a.Condition = &ConditionAction{Alias: alias.Alias, Condition: cond, Enabled: alias.Enabled}
		return nil
	case probe.Event != nil:
		a.Kind = "event"
		a.Event = &EventAction{}
		return json.Unmarshal(data, a.Event)
	case probe.Variables != nil:
		a.Kind = "variables"
		a.Variables = &VariablesAction{}
		return json.Unmarshal(data, a.Variables)
	default:
		return fmt.Errorf("script: action has no recognized discriminating key")
	}
}

// Enabled reports whether the action should run at all (actions default
// to enabled; `enabled: false` short-circuits without error).
func (a Action) Enabled() bool {
	switch a.Kind {
	case "service":
		return a.Service.isEnabled()
	case "delay":
		return a.Delay.isEnabled()
	case "wait_for_trigger":
		return a.WaitForTrigger.isEnabled()
	case "wait_template":
		return a.WaitTemplate.isEnabled()
	case "variables":
		return a.Variables.isEnabled()
	case "choose":
		return a.Choose.isEnabled()
	case "if":
		return a.If.isEnabled()
	case "repeat":
		return a.Repeat.isEnabled()
	case "sequence":
		return a.Sequence.isEnabled()
	case "parallel":
		return a.Parallel.isEnabled()
	case "condition":
		return a.Condition.isEnabled()
	case "stop":
		return a.Stop.isEnabled()
	case "event":
		return a.Event.isEnabled()
	case "scene":
		return a.Scene.isEnabled()
	default:
		return true
	}
}
