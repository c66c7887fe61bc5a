// Package notify implements persistent notifications: in-memory UI
// alerts that outlive a single service call until explicitly dismissed.
// Compatible with Home Assistant's persistent_notification component.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/cuemby/hassd/pkg/core"

	"github.com/cuemby/hassd/internal/log"
)

// Domain is the service domain name for persistent notifications.
const Domain = "persistent_notification"

// Notification is a single persistent notification.
type Notification struct {
	NotificationID string    `json:"notification_id"`
	Message        string    `json:"message"`
	Title          *string   `json:"title,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UpdateType describes what kind of change produced a Notification.
type UpdateType string

const (
	// UpdateCurrent marks an entry in an initial snapshot listing, not a
	// change in its own right.
	UpdateCurrent UpdateType = "current"
	UpdateAdded   UpdateType = "added"
	UpdateRemoved UpdateType = "removed"
	UpdateUpdated UpdateType = "updated"
)

// Manager is a thread-safe in-memory notification store. All operations
// are idempotent: creating the same id twice updates it, dismissing an
// absent id is a no-op.
type Manager struct {
	mu   sync.RWMutex
	byID map[string]Notification
	now  core.Clock
}

// New creates an empty notification manager. now is called to stamp
// CreatedAt on every Create; it is never called internally for anything
// else.
func New(now core.Clock) *Manager {
	return &Manager{byID: make(map[string]Notification), now: now}
}

// Create creates or updates a notification. Returns the stored
// notification and whether it was newly added or merely updated.
func (m *Manager) Create(notificationID, message string, title *string) (Notification, UpdateType) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.byID[notificationID]
	n := Notification{
		NotificationID: notificationID,
		Message:        message,
		Title:          title,
		CreatedAt:      m.now(),
	}
	m.byID[notificationID] = n

	if exists {
		log.WithComponent("notify").Debug().Str("notification_id", notificationID).Msg("updated notification")
		return n, UpdateUpdated
	}
	log.WithComponent("notify").Info().Str("notification_id", notificationID).Msg("created notification")
	return n, UpdateAdded
}

// Dismiss removes a notification. Returns the removed notification, if
// it existed.
func (m *Manager) Dismiss(notificationID string) (Notification, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, ok := m.byID[notificationID]
	if !ok {
		log.WithComponent("notify").Debug().Str("notification_id", notificationID).Msg("dismiss of non-existent notification")
		return Notification{}, false
	}
	delete(m.byID, notificationID)
	log.WithComponent("notify").Info().Str("notification_id", notificationID).Msg("dismissed notification")
	return n, true
}

// DismissAll removes every notification and returns what was removed,
// sorted by id for deterministic output.
func (m *Manager) DismissAll() []Notification {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := sortedValues(m.byID)
	for id := range m.byID {
		delete(m.byID, id)
	}
	if len(out) > 0 {
		log.WithComponent("notify").Info().Int("count", len(out)).Msg("dismissed all notifications")
	}
	return out
}

// Get looks up a single notification by id.
func (m *Manager) Get(notificationID string) (Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.byID[notificationID]
	return n, ok
}

// GetAll returns every notification, sorted by id.
func (m *Manager) GetAll() []Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedValues(m.byID)
}

// GetAllMap returns every notification keyed by id, for callers (e.g. a
// websocket snapshot handler) that want map semantics instead of a list.
func (m *Manager) GetAllMap() map[string]Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Notification, len(m.byID))
	for id, n := range m.byID {
		out[id] = n
	}
	return out
}

// Len returns the number of stored notifications.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// IsEmpty reports whether there are no stored notifications.
func (m *Manager) IsEmpty() bool {
	return m.Len() == 0
}

func sortedValues(byID map[string]Notification) []Notification {
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Notification, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}
