// Package automation implements the trigger/condition/automation types and
// the manager that owns their lifecycle (enable/disable/run-count
// tracking). The event-driven trigger→condition→action pipeline itself
// lives in engine.go.
package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityIDSpec accepts either a single entity id or a list of them, the
// way `entity_id:` appears in Home Assistant YAML.
type EntityIDSpec struct {
	IDs []string
}

func (s *EntityIDSpec) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.IDs = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("entity_id: expected string or array of strings: %w", err)
	}
	s.IDs = list
	return nil
}

func (s EntityIDSpec) MarshalJSON() ([]byte, error) {
	if len(s.IDs) == 1 {
		return json.Marshal(s.IDs[0])
	}
	return json.Marshal(s.IDs)
}

// StateMatch accepts a single state value or a list of acceptable values.
type StateMatch struct {
	Values []string
}

func (m *StateMatch) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		m.Values = []string{single}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("state: expected string or array of strings: %w", err)
	}
	m.Values = list
	return nil
}

func (m StateMatch) MarshalJSON() ([]byte, error) {
	if len(m.Values) == 1 {
		return json.Marshal(m.Values[0])
	}
	return json.Marshal(m.Values)
}

// Matches reports whether state is one of the accepted values.
func (m StateMatch) Matches(state string) bool {
	for _, v := range m.Values {
		if v == state {
			return true
		}
	}
	return false
}

// NumericValue is either a literal threshold or an entity id whose state
// supplies the threshold at evaluation time.
type NumericValue struct {
	Literal  *float64
	EntityID string
}

func (v *NumericValue) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		v.Literal = &f
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("numeric value: expected number or entity id string: %w", err)
	}
	v.EntityID = s
	return nil
}

func (v NumericValue) MarshalJSON() ([]byte, error) {
	if v.Literal != nil {
		return json.Marshal(*v.Literal)
	}
	return json.Marshal(v.EntityID)
}

// TimeSpec is a fixed HH:MM:SS time or an entity id (input_datetime,
// sensor) to read the time from.
type TimeSpec struct {
	Fixed    *time.Duration // time-of-day offset from midnight
	EntityID string
}

func (t *TimeSpec) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if d, err := parseClockTime(s); err == nil {
		t.Fixed = &d
		return nil
	}
	t.EntityID = s
	return nil
}

// parseClockTime parses "HH:MM:SS" into a duration-since-midnight.
func parseClockTime(s string) (time.Duration, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("invalid time %q", s)
	}
	hours, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, err
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, err
	}
	secs := 0
	if len(parts) == 3 {
		secs, err = strconv.Atoi(parts[2])
		if err != nil {
			return 0, err
		}
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second, nil
}

// ParseDuration ports option_duration_serde's HH:MM:SS/MM:SS/SS parser
// (a leading "-" negates the result). pkg/script uses it for delay and
// wait timeouts; the trigger and condition evaluators do not call it, so
// `for:` durations are carried on the config but not applied.
func ParseDuration(s string) (time.Duration, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	var hours, mins, secs int
	var err error
	switch len(parts) {
	case 1:
		secs, err = strconv.Atoi(parts[0])
	case 2:
		mins, err = strconv.Atoi(parts[0])
		if err == nil {
			secs, err = strconv.Atoi(parts[1])
		}
	case 3:
		hours, err = strconv.Atoi(parts[0])
		if err == nil {
			mins, err = strconv.Atoi(parts[1])
		}
		if err == nil {
			secs, err = strconv.Atoi(parts[2])
		}
	default:
		return 0, fmt.Errorf("invalid duration format %q", s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid duration format %q: %w", s, err)
	}
	d := time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(secs)*time.Second
	if neg {
		d = -d
	}
	return d, nil
}

// ZoneEvent is a zone-trigger direction.
type ZoneEvent string

const (
	ZoneEnter ZoneEvent = "enter"
	ZoneLeave ZoneEvent = "leave"
)

// SunEvent is a sun-trigger/condition position.
type SunEvent string

const (
	SunSunrise SunEvent = "sunrise"
	SunSunset  SunEvent = "sunset"
)

// HassEvent is a homeassistant-trigger lifecycle event.
type HassEvent string

const (
	HassStart    HassEvent = "start"
	HassShutdown HassEvent = "shutdown"
)

// Trigger is the tagged union of the 10 trigger variants, discriminated
// by the "trigger" field.
type Trigger struct {
	Kind string `json:"trigger"`

	State          *StateTrigger        `json:"-"`
	Event          *EventTrigger        `json:"-"`
	Time           *TimeTrigger         `json:"-"`
	TimePattern    *TimePatternTrigger  `json:"-"`
	NumericState   *NumericStateTrigger `json:"-"`
	Template       *TemplateTrigger     `json:"-"`
	Zone           *ZoneTrigger         `json:"-"`
	Sun            *SunTrigger          `json:"-"`
	Homeassistant  *HomeassistantTrigger `json:"-"`
	Webhook        *WebhookTrigger      `json:"-"`
}

// ID returns the trigger's optional id, used by TriggerCondition to
// determine which trigger fired.
func (t Trigger) ID() string {
	switch t.Kind {
	case "state":
		return derefStr(t.State.ID)
	case "event":
		return derefStr(t.Event.ID)
	case "time":
		return derefStr(t.Time.ID)
	case "time_pattern":
		return derefStr(t.TimePattern.ID)
	case "numeric_state":
		return derefStr(t.NumericState.ID)
	case "template":
		return derefStr(t.Template.ID)
	case "zone":
		return derefStr(t.Zone.ID)
	case "sun":
		return derefStr(t.Sun.ID)
	case "homeassistant":
		return derefStr(t.Homeassistant.ID)
	case "webhook":
		return derefStr(t.Webhook.ID)
	default:
		return ""
	}
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (t *Trigger) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind string `json:"trigger"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	t.Kind = head.Kind
	switch head.Kind {
	case "state":
		t.State = &StateTrigger{}
		return json.Unmarshal(data, t.State)
	case "event":
		t.Event = &EventTrigger{}
		return json.Unmarshal(data, t.Event)
	case "time":
		t.Time = &TimeTrigger{}
		return json.Unmarshal(data, t.Time)
	case "time_pattern":
		t.TimePattern = &TimePatternTrigger{}
		return json.Unmarshal(data, t.TimePattern)
	case "numeric_state":
		t.NumericState = &NumericStateTrigger{}
		return json.Unmarshal(data, t.NumericState)
	case "template":
		t.Template = &TemplateTrigger{}
		return json.Unmarshal(data, t.Template)
	case "zone":
		t.Zone = &ZoneTrigger{}
		return json.Unmarshal(data, t.Zone)
	case "sun":
		t.Sun = &SunTrigger{}
		return json.Unmarshal(data, t.Sun)
	case "homeassistant":
		t.Homeassistant = &HomeassistantTrigger{}
		return json.Unmarshal(data, t.Homeassistant)
	case "webhook":
		t.Webhook = &WebhookTrigger{}
		return json.Unmarshal(data, t.Webhook)
	default:
		return fmt.Errorf("automation: unknown trigger kind %q", head.Kind)
	}
}

func (t Trigger) MarshalJSON() ([]byte, error) {
	var inner any
	switch t.Kind {
	case "state":
		inner = t.State
	case "event":
		inner = t.Event
	case "time":
		inner = t.Time
	case "time_pattern":
		inner = t.TimePattern
	case "numeric_state":
		inner = t.NumericState
	case "template":
		inner = t.Template
	case "zone":
		inner = t.Zone
	case "sun":
		inner = t.Sun
	case "homeassistant":
		inner = t.Homeassistant
	case "webhook":
		inner = t.Webhook
	}
	raw, err := json.Marshal(inner)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	kind, err := json.Marshal(t.Kind)
	if err != nil {
		return nil, err
	}
	m["trigger"] = kind
	return json.Marshal(m)
}

type StateTrigger struct {
	ID        *string      `json:"id,omitempty"`
	EntityID  EntityIDSpec `json:"entity_id"`
	From      *StateMatch  `json:"from,omitempty"`
	To        *StateMatch  `json:"to,omitempty"`
	Attribute *string      `json:"attribute,omitempty"`
	For       *string      `json:"for,omitempty"`
	NotFrom   []string     `json:"not_from,omitempty"`
	NotTo     []string     `json:"not_to,omitempty"`
}

type EventTrigger struct {
	ID        *string             `json:"id,omitempty"`
	EventType string              `json:"event_type"`
	EventData json.RawMessage     `json:"event_data,omitempty"`
	Context   *EventContextFilter `json:"context,omitempty"`
}

type EventContextFilter struct {
	UserID *string `json:"user_id,omitempty"`
}

type TimeTrigger struct {
	ID *string  `json:"id,omitempty"`
	At TimeSpec `json:"at"`
}

type TimePatternTrigger struct {
	ID      *string `json:"id,omitempty"`
	Hours   *string `json:"hours,omitempty"`
	Minutes *string `json:"minutes,omitempty"`
	Seconds *string `json:"seconds,omitempty"`
}

type NumericStateTrigger struct {
	ID            *string      `json:"id,omitempty"`
	EntityID      EntityIDSpec `json:"entity_id"`
	Attribute     *string      `json:"attribute,omitempty"`
	Above         *NumericValue `json:"above,omitempty"`
	Below         *NumericValue `json:"below,omitempty"`
	For           *string      `json:"for,omitempty"`
	ValueTemplate *string      `json:"value_template,omitempty"`
}

type TemplateTrigger struct {
	ID            *string `json:"id,omitempty"`
	ValueTemplate string  `json:"value_template"`
	For           *string `json:"for,omitempty"`
}

type ZoneTrigger struct {
	ID       *string      `json:"id,omitempty"`
	EntityID EntityIDSpec `json:"entity_id"`
	Zone     string       `json:"zone"`
	Event    ZoneEvent    `json:"event"`
}

type SunTrigger struct {
	ID     *string  `json:"id,omitempty"`
	Event  SunEvent `json:"event"`
	Offset *string  `json:"offset,omitempty"`
}

type HomeassistantTrigger struct {
	ID    *string   `json:"id,omitempty"`
	Event HassEvent `json:"event"`
}

type WebhookTrigger struct {
	ID             *string  `json:"id,omitempty"`
	WebhookID      string   `json:"webhook_id"`
	AllowedMethods []string `json:"allowed_methods,omitempty"`
	LocalOnly      bool     `json:"local_only,omitempty"`
}
