package automation

import (
	"encoding/json"
	"fmt"
)

// WeekdaySpec is a lowercase three-letter weekday abbreviation as used
// in a time condition's weekday list.
type WeekdaySpec string

const (
	Mon WeekdaySpec = "mon"
	Tue WeekdaySpec = "tue"
	Wed WeekdaySpec = "wed"
	Thu WeekdaySpec = "thu"
	Fri WeekdaySpec = "fri"
	Sat WeekdaySpec = "sat"
	Sun WeekdaySpec = "sun"
)

// SunPosition names which solar event a sun condition is relative to.
type SunPosition string

const (
	SunPosSunrise SunPosition = "sunrise"
	SunPosSunset  SunPosition = "sunset"
)

// Condition is the tagged union of the 11 condition variants,
// discriminated by the "condition" field.
type Condition struct {
	Kind string `json:"condition"`

	State        *StateCondition        `json:"-"`
	NumericState *NumericStateCondition `json:"-"`
	Time         *TimeCondition         `json:"-"`
	Sun          *SunCondition          `json:"-"`
	Zone         *ZoneCondition         `json:"-"`
	Template     *TemplateCondition     `json:"-"`
	Trigger      *TriggerCondition      `json:"-"`
	And          *AndCondition          `json:"-"`
	Or           *OrCondition           `json:"-"`
	Not          *NotCondition          `json:"-"`
	Device       *DeviceCondition       `json:"-"`
}

func (c *Condition) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind string `json:"condition"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	c.Kind = head.Kind
	switch head.Kind {
	case "state":
		c.State = &StateCondition{}
		return json.Unmarshal(data, c.State)
	case "numeric_state":
		c.NumericState = &NumericStateCondition{}
		return json.Unmarshal(data, c.NumericState)
	case "time":
		c.Time = &TimeCondition{}
		return json.Unmarshal(data, c.Time)
	case "sun":
		c.Sun = &SunCondition{}
		return json.Unmarshal(data, c.Sun)
	case "zone":
		c.Zone = &ZoneCondition{}
		return json.Unmarshal(data, c.Zone)
	case "template":
		c.Template = &TemplateCondition{}
		return json.Unmarshal(data, c.Template)
	case "trigger":
		c.Trigger = &TriggerCondition{}
		return json.Unmarshal(data, c.Trigger)
	case "and":
		c.And = &AndCondition{}
		return json.Unmarshal(data, c.And)
	case "or":
		c.Or = &OrCondition{}
		return json.Unmarshal(data, c.Or)
	case "not":
		c.Not = &NotCondition{}
		return json.Unmarshal(data, c.Not)
	case "device":
		c.Device = &DeviceCondition{}
		return json.Unmarshal(data, c.Device)
	default:
		return fmt.Errorf("automation: unknown condition kind %q", head.Kind)
	}
}

func (c Condition) MarshalJSON() ([]byte, error) {
	var inner any
	switch c.Kind {
	case "state":
		inner = c.State
	case "numeric_state":
		inner = c.NumericState
	case "time":
		inner = c.Time
	case "sun":
		inner = c.Sun
	case "zone":
		inner = c.Zone
	case "template":
		inner = c.Template
	case "trigger":
		inner = c.Trigger
	case "and":
		inner = c.And
	case "or":
		inner = c.Or
	case "not":
		inner = c.Not
	case "device":
		inner = c.Device
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(c.Kind)
	if err != nil {
		return nil, err
	}
	m["condition"] = kind
	return json.Marshal(m)
}

// And builds an "and" condition from the given sub-conditions.
func And(conditions ...Condition) Condition {
	return Condition{Kind: "and", And: &AndCondition{Conditions: conditions}}
}

// Or builds an "or" condition from the given sub-conditions.
func Or(conditions ...Condition) Condition {
	return Condition{Kind: "or", Or: &OrCondition{Conditions: conditions}}
}

// Not negates a single condition.
func Not(condition Condition) Condition {
	return Condition{Kind: "not", Not: &NotCondition{Condition: &condition}}
}

type StateCondition struct {
	EntityID   EntityIDSpec `json:"entity_id"`
	State      StateMatch   `json:"state"`
	Attribute  *string      `json:"attribute,omitempty"`
	For        *string      `json:"for,omitempty"`
	MatchRegex bool         `json:"match_regex,omitempty"`
}

type NumericStateCondition struct {
	EntityID      EntityIDSpec  `json:"entity_id"`
	Attribute     *string       `json:"attribute,omitempty"`
	Above         *NumericValue `json:"above,omitempty"`
	Below         *NumericValue `json:"below,omitempty"`
	ValueTemplate *string       `json:"value_template,omitempty"`
}

type TimeCondition struct {
	After   *TimeSpec     `json:"after,omitempty"`
	Before  *TimeSpec     `json:"before,omitempty"`
	Weekday []WeekdaySpec `json:"weekday,omitempty"`
}

type SunCondition struct {
	After        *SunPosition `json:"after,omitempty"`
	AfterOffset  *string      `json:"after_offset,omitempty"`
	Before       *SunPosition `json:"before,omitempty"`
	BeforeOffset *string      `json:"before_offset,omitempty"`
}

type ZoneCondition struct {
	EntityID EntityIDSpec `json:"entity_id"`
	Zone     string       `json:"zone"`
}

type TemplateCondition struct {
	ValueTemplate string `json:"value_template"`
}

type TriggerCondition struct {
	ID string `json:"id"`
}

type AndCondition struct {
	Conditions []Condition `json:"conditions"`
}

type OrCondition struct {
	Conditions []Condition `json:"conditions"`
}

type NotCondition struct {
	Condition *Condition `json:"condition"`
}

type DeviceCondition struct {
	DeviceID string          `json:"device_id"`
	Domain   string          `json:"domain"`
	Type     string          `json:"type"`
	Data     json.RawMessage `json:"-"`
}
