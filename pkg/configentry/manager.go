package configentry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/internal/metrics"
	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/storage"
	"github.com/robfig/cron/v3"
)

const (
	storageKey          = "core.config_entries"
	storageVersion      = 1
	storageMinorVersion = 1
)

// SetupFunc is an integration's setup callback, invoked with the entry
// under the state machine's protection. hassFacade is left as `any` here
// since pkg/configentry doesn't import pkg/hass (which itself depends on
// this package) — callers type-assert to their own facade interface.
type SetupFunc func(ctx context.Context, hassFacade any, entry *Entry) (Result, error)

// UnloadFunc is an integration's unload callback.
type UnloadFunc func(ctx context.Context, hassFacade any, entry *Entry) error

// Result is what a SetupFunc reports about the outcome of setup.
type Result int

const (
	// ResultLoaded means setup succeeded; the entry transitions to Loaded.
	ResultLoaded Result = iota
	// ResultRetry means setup should be retried with backoff; the entry
	// transitions to SetupRetry.
	ResultRetry
	// ResultMigrationRequired means the entry's stored version is behind
	// what the integration expects and cannot auto-migrate; the entry
	// transitions to the terminal MigrationError.
	ResultMigrationRequired
)

type handlers struct {
	setup  SetupFunc
	unload UnloadFunc
}

type entryData struct {
	Entries []*Entry `json:"entries"`
}

// Manager is the collection of config entries: it owns persistence,
// per-domain handler registration, and drives the state machine through
// setup/unload/reload, including retry scheduling on SetupRetry.
type Manager struct {
	mu       sync.RWMutex
	entries  map[string]*Entry
	handlers map[string]handlers

	storage    *storage.Storage
	now        core.Clock
	hassFacade any

	retryMu     sync.Mutex
	retryTimers map[string]*time.Timer

	sweep *cron.Cron
}

// New creates an empty config entry manager backed by s. hassFacade is
// passed through to every SetupFunc/UnloadFunc verbatim.
func New(s *storage.Storage, now core.Clock, hassFacade any) *Manager {
	return &Manager{
		entries:     make(map[string]*Entry),
		handlers:    make(map[string]handlers),
		storage:     s,
		now:         now,
		hassFacade:  hassFacade,
		retryTimers: make(map[string]*time.Timer),
	}
}

// RegisterHandlers associates domain with the setup/unload callbacks an
// integration provides. Must be called before Setup is invoked for any
// entry of that domain.
func (m *Manager) RegisterHandlers(domain string, setup SetupFunc, unload UnloadFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[domain] = handlers{setup: setup, unload: unload}
}

// StartSweep launches a periodic cron-driven sweep that re-runs Setup for
// any entry in SetupRetry whose NextRetryAt has elapsed but whose one-shot
// retryTimers entry has gone missing — a safety net for a lost timer, not
// a substitute for it (State/Tries/NextRetryAt are runtime-only and do not
// survive a process restart; Load's caller is expected to call Setup on
// every entry to bring them back up after one). schedule is a 6-field
// cron expression with a leading seconds field, since the sweep is built
// with cron.New(cron.WithSeconds()) (e.g. "*/30 * * * * *").
func (m *Manager) StartSweep(ctx context.Context, schedule string) error {
	m.sweep = cron.New(cron.WithSeconds())
	_, err := m.sweep.AddFunc(schedule, func() {
		m.sweepDueRetries(ctx)
	})
	if err != nil {
		return fmt.Errorf("configentry: schedule sweep: %w", err)
	}
	m.sweep.Start()
	return nil
}

// StopSweep stops the periodic sweep, if running, and cancels every
// pending one-shot retry timer.
func (m *Manager) StopSweep() {
	if m.sweep != nil {
		m.sweep.Stop()
	}
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	for id, timer := range m.retryTimers {
		timer.Stop()
		delete(m.retryTimers, id)
	}
}

// sweepDueRetries re-runs Setup for any entry stuck in SetupRetry whose
// backoff has elapsed with no corresponding retryTimers entry — i.e. the
// one-shot timer scheduleRetry armed is gone (fired already and raced
// past its own cleanup, or was never successfully armed) but the state
// machine never advanced out of SetupRetry to prove it.
func (m *Manager) sweepDueRetries(ctx context.Context) {
	now := m.now()
	for _, entry := range m.All() {
		if entry.State != StateSetupRetry || entry.NextRetryAt.IsZero() || now.Before(entry.NextRetryAt) {
			continue
		}

		m.retryMu.Lock()
		_, hasTimer := m.retryTimers[entry.EntryID]
		m.retryMu.Unlock()
		if hasTimer {
			continue
		}

		log.WithEntryID(entry.EntryID).Warn().Msg("sweep found a due retry with no pending timer, retrying now")
		go func(entryID string) {
			if err := m.Setup(ctx, entryID); err != nil {
				log.WithEntryID(entryID).Error().Err(err).Msg("config entry swept retry failed")
			}
		}(entry.EntryID)
	}
}

// Load reads persisted entries from storage. Each loaded entry starts in
// StateNotLoaded; callers typically call Setup on every loaded entry
// afterward to bring the system back up.
func (m *Manager) Load() error {
	var data entryData
	ok, err := m.storage.Load(storageKey, storageVersion, storageMinorVersion, &data)
	if err != nil || !ok {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range data.Entries {
		m.entries[entry.EntryID] = entry
	}
	return nil
}

// Save persists every config entry currently registered.
func (m *Manager) Save() error {
	data := entryData{Entries: m.All()}
	return m.storage.Save(storageKey, storageVersion, storageMinorVersion, data)
}

// Add registers a new entry, rejecting duplicates by (domain, unique_id)
// when unique_id is set.
func (m *Manager) Add(entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.UniqueID != "" {
		for _, existing := range m.entries {
			if existing.Domain == entry.Domain && existing.UniqueID == entry.UniqueID {
				return fmt.Errorf("%w: entry with unique_id %q already exists for domain %q", core.ErrInvalidConfig, entry.UniqueID, entry.Domain)
			}
		}
	}
	m.entries[entry.EntryID] = entry
	return nil
}

// Get returns the entry with the given id.
func (m *Manager) Get(entryID string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[entryID]
	return e, ok
}

// GetByDomain returns every entry registered for domain.
func (m *Manager) GetByDomain(domain string) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.Domain == domain {
			out = append(out, e)
		}
	}
	return out
}

// GetByUniqueID returns the entry registered for (domain, uniqueID), if any.
func (m *Manager) GetByUniqueID(domain, uniqueID string) (*Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.entries {
		if e.Domain == domain && e.UniqueID == uniqueID {
			return e, true
		}
	}
	return nil, false
}

// GetLoadedByDomain returns every entry for domain currently in StateLoaded.
func (m *Manager) GetLoadedByDomain(domain string) []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Entry
	for _, e := range m.entries {
		if e.Domain == domain && e.State == StateLoaded {
			out = append(out, e)
		}
	}
	return out
}

// Update applies u to the entry's mutable fields. Returns false if
// entryID is unknown.
func (m *Manager) Update(entryID string, u Update) (*Entry, bool) {
	entry, ok := m.Get(entryID)
	if !ok {
		return nil, false
	}
	entry.Lock()
	defer entry.Unlock()
	entry.Apply(u, m.now())
	return entry, true
}

// Remove deletes an entry and cancels any pending retry timer for it.
func (m *Manager) Remove(entryID string) (*Entry, bool) {
	m.mu.Lock()
	entry, ok := m.entries[entryID]
	if ok {
		delete(m.entries, entryID)
	}
	m.mu.Unlock()
	m.cancelRetry(entryID)
	return entry, ok
}

// All returns every registered entry.
func (m *Manager) All() []*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	return out
}

// Setup drives entryID's state machine through SetupInProgress and into
// whichever state the domain's SetupFunc reports, scheduling a retry with
// backoff on ResultRetry. It holds the entry's per-entry lock for the
// duration, serializing with any concurrent Setup/Unload/Reload on the
// same entry.
func (m *Manager) Setup(ctx context.Context, entryID string) error {
	entry, ok := m.Get(entryID)
	if !ok {
		return fmt.Errorf("%w: config entry %q", core.ErrNotFound, entryID)
	}

	m.mu.RLock()
	h, hasHandlers := m.handlers[entry.Domain]
	m.mu.RUnlock()
	if !hasHandlers {
		return fmt.Errorf("%w: no setup handler registered for domain %q", core.ErrInvalidConfig, entry.Domain)
	}

	entry.Lock()
	defer entry.Unlock()

	if err := entry.TrySetState(StateSetupInProgress, ""); err != nil {
		return err
	}
	m.observeState(entry)

	timer := metrics.NewTimer()
	result, err := h.setup(ctx, m.hassFacade, entry)
	timer.ObserveDuration(metrics.ConfigEntrySetupDuration)

	if err != nil {
		if setErr := entry.TrySetState(StateSetupError, err.Error()); setErr != nil {
			return setErr
		}
		m.observeState(entry)
		log.WithEntryID(entry.EntryID).Error().Err(err).Msg("config entry setup failed")
		return nil
	}

	switch result {
	case ResultLoaded:
		if err := entry.TrySetState(StateLoaded, ""); err != nil {
			return err
		}
	case ResultRetry:
		priorTries := entry.Tries
		entry.IncrementTries()
		if err := entry.TrySetState(StateSetupRetry, "setup requested a retry"); err != nil {
			return err
		}
		m.scheduleRetry(ctx, entry, priorTries)
	case ResultMigrationRequired:
		if err := entry.TrySetState(StateMigrationError, "stored schema version requires migration"); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: unrecognized setup result %d", core.ErrInvalidConfig, result)
	}
	m.observeState(entry)
	return nil
}

// Unload drives entryID through UnloadInProgress to NotLoaded (or
// FailedUnload on handler error), cancelling any pending retry.
func (m *Manager) Unload(ctx context.Context, entryID string) error {
	entry, ok := m.Get(entryID)
	if !ok {
		return fmt.Errorf("%w: config entry %q", core.ErrNotFound, entryID)
	}

	m.cancelRetry(entryID)

	m.mu.RLock()
	h, hasHandlers := m.handlers[entry.Domain]
	m.mu.RUnlock()

	entry.Lock()
	defer entry.Unlock()

	if err := entry.TrySetState(StateUnloadInProgress, ""); err != nil {
		return err
	}
	m.observeState(entry)

	var unloadErr error
	if hasHandlers && h.unload != nil {
		unloadErr = h.unload(ctx, m.hassFacade, entry)
	}

	if unloadErr != nil {
		if err := entry.TrySetState(StateFailedUnload, unloadErr.Error()); err != nil {
			return err
		}
		m.observeState(entry)
		return unloadErr
	}

	if err := entry.TrySetState(StateNotLoaded, ""); err != nil {
		return err
	}
	m.observeState(entry)
	return nil
}

// Reload unloads then re-runs setup for entryID.
func (m *Manager) Reload(ctx context.Context, entryID string) error {
	if err := m.Unload(ctx, entryID); err != nil {
		return err
	}
	return m.Setup(ctx, entryID)
}

// scheduleRetry arms a one-shot timer for entry's next setup attempt and
// stamps entry.NextRetryAt so sweepDueRetries can tell a due retry whose
// timer went missing from one that's simply not due yet. Callers must
// hold entry's lock.
func (m *Manager) scheduleRetry(ctx context.Context, entry *Entry, tries uint32) {
	entryID := entry.EntryID
	delay := CalculateRetryDelay(tries)
	entry.NextRetryAt = m.now().Add(delay)

	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	if existing, ok := m.retryTimers[entryID]; ok {
		existing.Stop()
	}
	m.retryTimers[entryID] = time.AfterFunc(delay, func() {
		m.retryMu.Lock()
		delete(m.retryTimers, entryID)
		m.retryMu.Unlock()
		if err := m.Setup(ctx, entryID); err != nil {
			log.WithEntryID(entryID).Error().Err(err).Msg("config entry retry failed")
		}
	})
}

func (m *Manager) cancelRetry(entryID string) {
	m.retryMu.Lock()
	defer m.retryMu.Unlock()
	if timer, ok := m.retryTimers[entryID]; ok {
		timer.Stop()
		delete(m.retryTimers, entryID)
	}
}

func (m *Manager) observeState(entry *Entry) {
	log.WithEntryID(entry.EntryID).Debug().Str("state", string(entry.State)).Msg("config entry state changed")
	counts := make(map[State]int)
	for _, e := range m.All() {
		counts[e.State]++
	}
	for _, state := range []State{
		StateNotLoaded, StateSetupInProgress, StateLoaded, StateSetupError,
		StateSetupRetry, StateMigrationError, StateUnloadInProgress, StateFailedUnload,
	} {
		metrics.ConfigEntriesByState.WithLabelValues(string(state)).Set(float64(counts[state]))
	}
}
