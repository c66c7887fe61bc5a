package configentry

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/cuemby/hassd/pkg/ids"
)

// Source records how a config entry came to exist.
type Source string

const (
	SourceUser                 Source = "user"
	SourceImport               Source = "import"
	SourceDiscovery            Source = "discovery"
	SourceDHCP                 Source = "dhcp"
	SourceSSDP                 Source = "ssdp"
	SourceZeroconf             Source = "zeroconf"
	SourceBluetooth            Source = "bluetooth"
	SourceMQTT                 Source = "mqtt"
	SourceNupnp                Source = "nupnp"
	SourceHassio               Source = "hassio"
	SourceHomekit              Source = "homekit"
	SourceIgnore               Source = "ignore"
	SourceReauth               Source = "reauth"
	SourceReconfigure          Source = "reconfigure"
	SourceSystem               Source = "system"
	SourceRegistration         Source = "registration"
	SourceIntegrationDiscovery Source = "integration_discovery"
)

// DisabledBy records what disabled a config entry.
type DisabledBy string

// DisabledByUser is the only disabling actor the core models; integrations
// disabled by any other means are out of scope.
const DisabledByUser DisabledBy = "user"

// Entry is a single instance of an integration's configuration, plus the
// lifecycle bookkeeping the state machine and retry scheduler need.
type Entry struct {
	EntryID      string                     `json:"entry_id"`
	Domain       string                     `json:"domain"`
	Title        string                     `json:"title"`
	Data         map[string]json.RawMessage `json:"data,omitempty"`
	Options      map[string]json.RawMessage `json:"options,omitempty"`
	Version      int                        `json:"version"`
	MinorVersion int                        `json:"minor_version"`
	UniqueID     string                     `json:"unique_id,omitempty"`
	Source       Source                     `json:"source"`

	DisabledBy     DisabledBy                 `json:"disabled_by,omitempty"`
	DiscoveryKeys  map[string]json.RawMessage `json:"discovery_keys,omitempty"`
	Subentries     []json.RawMessage          `json:"subentries,omitempty"`

	PrefDisableNewEntities bool `json:"pref_disable_new_entities"`
	PrefDisablePolling     bool `json:"pref_disable_polling"`

	CreatedAt  time.Time `json:"created_at"`
	ModifiedAt time.Time `json:"modified_at"`

	// Runtime-only fields: never persisted.
	State       State     `json:"-"`
	Reason      string    `json:"-"`
	Tries       uint32    `json:"-"`
	NextRetryAt time.Time `json:"-"`
	mu          sync.Mutex
}

// New creates a config entry in StateNotLoaded for domain/title.
func New(domain, title string, now time.Time) *Entry {
	return &Entry{
		EntryID:      ids.New(now),
		Domain:       domain,
		Title:        title,
		Version:      1,
		MinorVersion: 1,
		Source:       SourceUser,
		State:        StateNotLoaded,
		CreatedAt:    now,
		ModifiedAt:   now,
	}
}

// IsDisabled reports whether the entry has been disabled.
func (e *Entry) IsDisabled() bool { return e.DisabledBy != "" }

// IsLoaded reports whether the entry is currently loaded.
func (e *Entry) IsLoaded() bool { return e.State == StateLoaded }

// SupportsUnload reports whether the entry's current state permits an
// unload/reload to be attempted.
func (e *Entry) SupportsUnload() bool { return e.State.IsRecoverable() }

// Lock acquires the entry's setup/unload/reload exclusivity lock. Callers
// must Unlock when the operation completes.
func (e *Entry) Lock() { e.mu.Lock() }

// Unlock releases the entry's exclusivity lock.
func (e *Entry) Unlock() { e.mu.Unlock() }

// TrySetState validates the change against the transition table
// (TryTransition), commits the new state and reason, and resets the retry counter unless the new state
// is SetupInProgress or SetupRetry. Callers must hold the entry's lock.
func (e *Entry) TrySetState(newState State, reason string) error {
	if _, err := TryTransition(e.State, newState); err != nil {
		return err
	}
	e.State = newState
	e.Reason = reason
	if newState != StateSetupRetry && newState != StateSetupInProgress {
		e.Tries = 0
		e.NextRetryAt = time.Time{}
	}
	return nil
}

// IncrementTries bumps the retry counter and returns the new count.
func (e *Entry) IncrementTries() uint32 {
	e.Tries++
	return e.Tries
}

// Update applies non-nil fields to the entry's mutable configuration.
// Only fields a caller explicitly wants changed should be non-nil/non-zero
// in update; zero values are treated as "unset" except where noted.
type Update struct {
	Title                  *string
	Data                   map[string]json.RawMessage
	Options                map[string]json.RawMessage
	UniqueID               *string
	Version                *int
	MinorVersion           *int
	PrefDisableNewEntities *bool
	PrefDisablePolling     *bool
}

// Apply merges u into the entry and bumps ModifiedAt. Callers must hold
// the entry's lock.
func (e *Entry) Apply(u Update, now time.Time) {
	if u.Title != nil {
		e.Title = *u.Title
	}
	if u.Data != nil {
		e.Data = u.Data
	}
	if u.Options != nil {
		e.Options = u.Options
	}
	if u.UniqueID != nil {
		e.UniqueID = *u.UniqueID
	}
	if u.Version != nil {
		e.Version = *u.Version
	}
	if u.MinorVersion != nil {
		e.MinorVersion = *u.MinorVersion
	}
	if u.PrefDisableNewEntities != nil {
		e.PrefDisableNewEntities = *u.PrefDisableNewEntities
	}
	if u.PrefDisablePolling != nil {
		e.PrefDisablePolling = *u.PrefDisablePolling
	}
	e.ModifiedAt = now
}

// snapshot is the JSON-serializable view of an Entry: runtime-only fields
// (state, reason, tries, the lock) are excluded per spec.md's persistence
// rule for `core.config_entries`.
type snapshot struct {
	EntryID                string                     `json:"entry_id"`
	Domain                 string                     `json:"domain"`
	Title                  string                     `json:"title"`
	Data                   map[string]json.RawMessage `json:"data,omitempty"`
	Options                map[string]json.RawMessage `json:"options,omitempty"`
	Version                int                        `json:"version"`
	MinorVersion           int                        `json:"minor_version"`
	UniqueID               string                     `json:"unique_id,omitempty"`
	Source                 Source                     `json:"source"`
	DisabledBy             DisabledBy                 `json:"disabled_by,omitempty"`
	DiscoveryKeys          map[string]json.RawMessage `json:"discovery_keys,omitempty"`
	Subentries             []json.RawMessage          `json:"subentries,omitempty"`
	PrefDisableNewEntities bool                       `json:"pref_disable_new_entities"`
	PrefDisablePolling     bool                       `json:"pref_disable_polling"`
	CreatedAt              time.Time                  `json:"created_at"`
	ModifiedAt             time.Time                  `json:"modified_at"`
}

// MarshalJSON persists only the non-runtime fields.
func (e *Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(snapshot{
		EntryID:                e.EntryID,
		Domain:                 e.Domain,
		Title:                  e.Title,
		Data:                   e.Data,
		Options:                e.Options,
		Version:                e.Version,
		MinorVersion:           e.MinorVersion,
		UniqueID:               e.UniqueID,
		Source:                 e.Source,
		DisabledBy:             e.DisabledBy,
		DiscoveryKeys:          e.DiscoveryKeys,
		Subentries:             e.Subentries,
		PrefDisableNewEntities: e.PrefDisableNewEntities,
		PrefDisablePolling:     e.PrefDisablePolling,
		CreatedAt:              e.CreatedAt,
		ModifiedAt:             e.ModifiedAt,
	})
}

// UnmarshalJSON restores the persisted fields and resets the runtime-only
// fields to their NotLoaded defaults. Manager.Load does not re-run setup;
// its caller calls Setup on each entry after loading.
func (e *Entry) UnmarshalJSON(data []byte) error {
	var s snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*e = Entry{
		EntryID:                s.EntryID,
		Domain:                 s.Domain,
		Title:                  s.Title,
		Data:                   s.Data,
		Options:                s.Options,
		Version:                s.Version,
		MinorVersion:           s.MinorVersion,
		UniqueID:               s.UniqueID,
		Source:                 s.Source,
		DisabledBy:             s.DisabledBy,
		DiscoveryKeys:          s.DiscoveryKeys,
		Subentries:             s.Subentries,
		PrefDisableNewEntities: s.PrefDisableNewEntities,
		PrefDisablePolling:     s.PrefDisablePolling,
		CreatedAt:              s.CreatedAt,
		ModifiedAt:             s.ModifiedAt,
		State:                  StateNotLoaded,
	}
	return nil
}
