// Package state implements the authoritative entity-state map: the
// current value and attributes of every known entity, indexed by domain,
// with state_changed/state_reported events fired on every mutation.
package state

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/events"
)

// Store is the authoritative current-state map. Keyed by entity_id
// string, with a domain → entity_id secondary index for efficient
// per-domain queries. Both maps are guarded by a single mutex: the
// set/remove critical section touches both together, so splitting them
// under separate locks would only add complexity without improving
// concurrency.
type Store struct {
	mu          sync.RWMutex
	states      map[core.EntityID]core.State
	domainIndex map[string][]core.EntityID

	bus *events.Broker
	now core.Clock
}

// New creates an empty store that fires state events on bus.
func New(bus *events.Broker, now core.Clock) *Store {
	return &Store{
		states:      make(map[core.EntityID]core.State),
		domainIndex: make(map[string][]core.EntityID),
		bus:         bus,
		now:         now,
	}
}

// Get returns the current state of an entity, if any.
func (s *Store) Get(entityID core.EntityID) (core.State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[entityID]
	if !ok {
		return core.State{}, false
	}
	return st.Clone(), true
}

// GetState returns just the state value, if the entity exists.
func (s *Store) GetState(entityID core.EntityID) (string, bool) {
	st, ok := s.Get(entityID)
	if !ok {
		return "", false
	}
	return st.State, true
}

// IsState reports whether entityID currently holds the given state value.
func (s *Store) IsState(entityID core.EntityID, want string) bool {
	st, ok := s.GetState(entityID)
	return ok && st == want
}

// Set records a new state for entityID, firing state_changed or
// state_reported depending on whether anything actually changed.
func (s *Store) Set(entityID core.EntityID, stateValue string, attributes map[string]json.RawMessage, ctx core.Context) core.State {
	return s.setInternal(entityID, stateValue, attributes, ctx, false)
}

// SetWithForce behaves like Set; when forceUpdate is true it always
// advances last_changed and fires state_changed, even if the state value
// is unchanged.
func (s *Store) SetWithForce(entityID core.EntityID, stateValue string, attributes map[string]json.RawMessage, ctx core.Context, forceUpdate bool) core.State {
	return s.setInternal(entityID, stateValue, attributes, ctx, forceUpdate)
}

func (s *Store) setInternal(entityID core.EntityID, stateValue string, attributes map[string]json.RawMessage, ctx core.Context, forceUpdate bool) core.State {
	now := s.now()
	domain := entityID.Domain()

	s.mu.Lock()

	oldState, hadOld := s.states[entityID]

	sameState := hadOld && oldState.State == stateValue && !forceUpdate
	sameAttr := hadOld && core.AttributesEqual(oldState.Attributes, attributes)

	if sameState && sameAttr {
		oldLastReported := oldState.LastReported
		updated := oldState.Clone()
		updated.LastReported = now
		s.states[entityID] = updated
		s.mu.Unlock()

		log.WithEntityID(string(entityID)).Debug().Str("state", updated.State).Msg("state unchanged, reporting")

		s.fireStateReported(entityID, updated, oldLastReported, now, ctx)
		return updated
	}

	if !sameState && len(stateValue) > core.MaxStateLength {
		log.WithEntityID(string(entityID)).Warn().Int("state_length", len(stateValue)).
			Msg("state exceeds maximum length, falling back to unknown")
		stateValue = core.StateUnknown
	}

	var newState core.State
	if hadOld {
		newState = oldState.Clone()
		newState.State = stateValue
		newState.Attributes = attributes
		newState.Context = ctx
		newState.LastUpdated = now
		newState.LastReported = now
		if !sameState || forceUpdate {
			newState.LastChanged = now
		}
	} else {
		newState = core.NewState(entityID, stateValue, attributes, ctx, now)
	}

	s.states[entityID] = newState
	if !hadOld {
		s.domainIndex[domain] = append(s.domainIndex[domain], entityID)
	}
	s.mu.Unlock()

	var oldPtr *core.State
	if hadOld {
		clone := oldState.Clone()
		oldPtr = &clone
	}
	newPtr := newState.Clone()
	s.fireStateChanged(entityID, oldPtr, &newPtr, ctx)

	return newState
}

// Remove deletes an entity's state, firing state_changed with a nil
// new_state. Returns the removed state, if any.
func (s *Store) Remove(entityID core.EntityID, ctx core.Context) (core.State, bool) {
	domain := entityID.Domain()

	s.mu.Lock()
	oldState, ok := s.states[entityID]
	if !ok {
		s.mu.Unlock()
		return core.State{}, false
	}
	delete(s.states, entityID)
	s.domainIndex[domain] = removeEntityID(s.domainIndex[domain], entityID)
	s.mu.Unlock()

	oldClone := oldState.Clone()
	s.fireStateChanged(entityID, &oldClone, nil, ctx)
	return oldState, true
}

func removeEntityID(ids []core.EntityID, target core.EntityID) []core.EntityID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// EntityIDs returns every entity id registered under domain.
func (s *Store) EntityIDs(domain string) []core.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.domainIndex[domain]
	out := make([]core.EntityID, len(ids))
	copy(out, ids)
	return out
}

// DomainStates returns the current state of every entity in domain.
func (s *Store) DomainStates(domain string) []core.State {
	ids := s.EntityIDs(domain)
	out := make([]core.State, 0, len(ids))
	for _, id := range ids {
		if st, ok := s.Get(id); ok {
			out = append(out, st)
		}
	}
	return out
}

// AllEntityIDs returns every known entity id, in no particular order.
func (s *Store) AllEntityIDs() []core.EntityID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.EntityID, 0, len(s.states))
	for id := range s.states {
		out = append(out, id)
	}
	return out
}

// All returns the current state of every known entity.
func (s *Store) All() []core.State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.State, 0, len(s.states))
	for _, st := range s.states {
		out = append(out, st.Clone())
	}
	return out
}

// Domains returns every domain with at least one registered entity.
func (s *Store) Domains() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.domainIndex))
	for d := range s.domainIndex {
		out = append(out, d)
	}
	return out
}

// EntityCount returns the total number of entities with a stored state.
func (s *Store) EntityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.states)
}

func (s *Store) fireStateChanged(entityID core.EntityID, oldState, newState *core.State, ctx core.Context) {
	data := core.StateChangedData{EntityID: entityID, OldState: oldState, NewState: newState}
	event, err := core.NewEvent(core.EventStateChanged, data, ctx, s.now())
	if err != nil {
		log.WithEntityID(string(entityID)).Error().Err(err).Msg("failed to build state_changed event")
		return
	}
	s.bus.Fire(&event)
}

func (s *Store) fireStateReported(entityID core.EntityID, newState core.State, oldLastReported, lastReported time.Time, ctx core.Context) {
	data := core.StateReportedData{
		EntityID:        entityID,
		NewState:        newState,
		OldLastReported: oldLastReported,
		LastReported:    lastReported,
	}
	event, err := core.NewEvent(core.EventStateReported, data, ctx, lastReported)
	if err != nil {
		log.WithEntityID(string(entityID)).Error().Err(err).Msg("failed to build state_reported event")
		return
	}
	s.bus.Fire(&event)
}
