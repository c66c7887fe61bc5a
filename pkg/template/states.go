package template

import (
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/state"
)

// statesObject is the reflective `states` object: states('entity_id')
// returns the state value as a string, states.domain.object_id returns a
// StateWrapper, and states.domain returns a domainProxy.
type statesObject struct {
	store *state.Store
}

func newStatesObject(store *state.Store) *statesObject {
	return &statesObject{store: store}
}

func (s *statesObject) String() string { return "<states>" }

func (s *statesObject) getState(entityID string) (string, bool) {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return "", false
	}
	return s.store.GetState(id)
}

func (s *statesObject) getFullState(entityID string) (core.State, bool) {
	id, err := core.ParseEntityID(entityID)
	if err != nil {
		return core.State{}, false
	}
	return s.store.Get(id)
}

// isState reports whether entityID currently holds the given state value.
func (s *statesObject) isState(entityID, want string) bool {
	st, ok := s.getState(entityID)
	return ok && st == want
}

// hasValue reports whether entityID exists and holds a meaningful value
// (neither "unknown" nor "unavailable").
func (s *statesObject) hasValue(entityID string) bool {
	st, ok := s.getFullState(entityID)
	if !ok {
		return false
	}
	return st.State != core.StateUnknown && st.State != core.StateUnavailable
}

func (s *statesObject) Attr(key string) (Value, bool) {
	if containsDot(key) {
		st, ok := s.getFullState(key)
		if !ok {
			return Undefined, false
		}
		return stateToValue(st), true
	}
	return FromObject(&domainProxy{store: s.store, domain: key}), true
}

func (s *statesObject) Call(args []Value) (Value, error) {
	if len(args) == 0 {
		return Undefined, errCallArity("states", "entity_id")
	}
	entityID := args[0].String()
	if val, ok := s.getState(entityID); ok {
		return String(val), nil
	}
	return Undefined, nil
}

func containsDot(s string) bool {
	for _, r := range s {
		if r == '.' {
			return true
		}
	}
	return false
}

// domainProxy implements `states.light.living_room` and, when called,
// `states.light()` returning every entity in that domain.
type domainProxy struct {
	store  *state.Store
	domain string
}

func (d *domainProxy) String() string { return "<states." + d.domain + ">" }

func (d *domainProxy) Attr(objectID string) (Value, bool) {
	id, err := core.NewEntityID(d.domain, objectID)
	if err != nil {
		return Undefined, false
	}
	st, ok := d.store.Get(id)
	if !ok {
		return Undefined, false
	}
	return stateToValue(st), true
}

func (d *domainProxy) Call(args []Value) (Value, error) {
	states := d.store.DomainStates(d.domain)
	out := make([]Value, len(states))
	for i, st := range states {
		out[i] = stateToValue(st)
	}
	return List(out), nil
}

// stateWrapper exposes a single entity's State to templates via
// state.attribute-style access (state, entity_id, domain, object_id, name,
// last_changed, last_updated, attributes, and raw attribute passthrough).
type stateWrapper struct {
	st core.State
}

func stateToValue(st core.State) Value {
	return FromObject(&stateWrapper{st: st})
}

func (w *stateWrapper) String() string { return w.st.State }

func (w *stateWrapper) Attr(key string) (Value, bool) {
	switch key {
	case "state":
		return String(w.st.State), true
	case "entity_id":
		return String(string(w.st.EntityID)), true
	case "domain":
		return String(w.st.EntityID.Domain()), true
	case "object_id":
		return String(w.st.EntityID.ObjectID()), true
	case "name":
		if raw, ok := w.st.Attributes["friendly_name"]; ok {
			v := FromJSON(raw)
			if !v.IsUndefined() {
				return v, true
			}
		}
		return String(w.st.EntityID.ObjectID()), true
	case "last_changed":
		return String(w.st.LastChanged.UTC().Format(rfc3339)), true
	case "last_updated":
		return String(w.st.LastUpdated.UTC().Format(rfc3339)), true
	case "attributes":
		m := make(map[string]Value, len(w.st.Attributes))
		for k, v := range w.st.Attributes {
			m[k] = FromJSON(v)
		}
		return Dict(m), true
	default:
		if raw, ok := w.st.Attributes[key]; ok {
			return FromJSON(raw), true
		}
		return Undefined, false
	}
}

func (w *stateWrapper) Call(args []Value) (Value, error) {
	return Undefined, errNotCallable
}

const rfc3339 = "2006-01-02T15:04:05.999999999Z07:00"
