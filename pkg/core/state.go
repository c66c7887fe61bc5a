package core

import (
	"encoding/json"
	"time"
)

// State is the authoritative snapshot of a single entity at a point in
// time. Attribute maps are replaced atomically on every set, never merged.
type State struct {
	EntityID     EntityID                   `json:"entity_id"`
	State        string                     `json:"state"`
	Attributes   map[string]json.RawMessage `json:"attributes"`
	LastChanged  time.Time                  `json:"last_changed"`
	LastUpdated  time.Time                  `json:"last_updated"`
	LastReported time.Time                  `json:"last_reported"`
	Context      Context                    `json:"context"`
}

// NewState constructs a freshly-created state: all three timestamps equal now.
func NewState(entityID EntityID, state string, attributes map[string]json.RawMessage, ctx Context, now time.Time) State {
	return State{
		EntityID:     entityID,
		State:        state,
		Attributes:   attributes,
		LastChanged:  now,
		LastUpdated:  now,
		LastReported: now,
		Context:      ctx,
	}
}

// Clone returns a deep-enough copy safe to hand to a caller (the attribute
// map's values are immutable json.RawMessage, so copying the map header is
// sufficient to prevent mutation of the stored entry through the returned map).
func (s State) Clone() State {
	clone := s
	clone.Attributes = make(map[string]json.RawMessage, len(s.Attributes))
	for k, v := range s.Attributes {
		clone.Attributes[k] = v
	}
	return clone
}

// attributesEqual reports whether two attribute maps are value-equal.
func attributesEqual(a, b map[string]json.RawMessage) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		other, ok := b[k]
		if !ok || string(v) != string(other) {
			return false
		}
	}
	return true
}

// AttributesEqual is the exported form used by the state store.
func AttributesEqual(a, b map[string]json.RawMessage) bool { return attributesEqual(a, b) }
