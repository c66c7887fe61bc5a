package registry

import (
	"fmt"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/ids"
	"github.com/cuemby/hassd/pkg/storage"
)

const (
	areaStorageKey          = "core.area_registry"
	areaStorageVersion      = 1
	areaStorageMinorVersion = 6
)

// AreaEntry is a registered area (room, zone) in the home.
type AreaEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name,omitempty"`
	Picture        string    `json:"picture,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	Aliases        []string  `json:"aliases,omitempty"`
	FloorID        string    `json:"floor_id,omitempty"`
	Labels         []string  `json:"labels,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

func newAreaEntry(id, name string, now time.Time) AreaEntry {
	return AreaEntry{
		ID:             id,
		Name:           name,
		NormalizedName: normalizeName(name),
		CreatedAt:      now,
		ModifiedAt:     now,
	}
}

type areaRegistryData struct {
	Areas []AreaEntry `json:"areas"`
}

// AreaRegistry is the id-keyed directory of areas, with a normalized-name
// uniqueness index and a floor_id → area_id secondary index.
type AreaRegistry struct {
	store     *indexedStore[AreaEntry]
	byName    map[string]string
	byFloorID map[string]map[string]bool
	storage   *storage.Storage
	now       core.Clock
}

// NewAreaRegistry creates an empty area registry backed by s.
func NewAreaRegistry(s *storage.Storage, now core.Clock) *AreaRegistry {
	return &AreaRegistry{
		store:     newIndexedStore[AreaEntry](),
		byName:    make(map[string]string),
		byFloorID: make(map[string]map[string]bool),
		storage:   s,
		now:       now,
	}
}

// Load reads persisted areas from storage, if present.
func (r *AreaRegistry) Load() error {
	var data areaRegistryData
	ok, err := r.storage.Load(areaStorageKey, areaStorageVersion, areaStorageMinorVersion, &data)
	if err != nil || !ok {
		return err
	}
	for _, entry := range data.Areas {
		r.indexEntry(entry)
	}
	return nil
}

// Save persists every area currently registered.
func (r *AreaRegistry) Save() error {
	data := areaRegistryData{Areas: r.store.all()}
	return r.storage.Save(areaStorageKey, areaStorageVersion, areaStorageMinorVersion, data)
}

func (r *AreaRegistry) indexEntry(entry AreaEntry) {
	r.store.withLock(func(m map[string]AreaEntry) {
		m[entry.ID] = entry
	})
	if entry.NormalizedName != "" {
		r.byName[entry.NormalizedName] = entry.ID
	}
	if entry.FloorID != "" {
		if r.byFloorID[entry.FloorID] == nil {
			r.byFloorID[entry.FloorID] = make(map[string]bool)
		}
		r.byFloorID[entry.FloorID][entry.ID] = true
	}
}

func (r *AreaRegistry) unindexEntry(entry AreaEntry) {
	if entry.NormalizedName != "" {
		delete(r.byName, entry.NormalizedName)
	}
	if entry.FloorID != "" {
		delete(r.byFloorID[entry.FloorID], entry.ID)
	}
}

// Get returns the area with the given id.
func (r *AreaRegistry) Get(areaID string) (AreaEntry, bool) {
	return r.store.get(areaID)
}

// GetByName looks up an area by its (normalized) name.
func (r *AreaRegistry) GetByName(name string) (AreaEntry, bool) {
	id, ok := r.byName[normalizeName(name)]
	if !ok {
		return AreaEntry{}, false
	}
	return r.store.get(id)
}

// GetByFloorID returns every area registered on floorID.
func (r *AreaRegistry) GetByFloorID(floorID string) []AreaEntry {
	var out []AreaEntry
	for id := range r.byFloorID[floorID] {
		if entry, ok := r.store.get(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// Create registers a new area and returns its entry.
func (r *AreaRegistry) Create(name string) AreaEntry {
	now := r.now()
	entry := newAreaEntry(ids.New(now), name, now)
	r.indexEntry(entry)
	return entry
}

// Update applies mutate to the area's current entry, reindexes it, and
// returns the updated entry. Returns false if areaID is unknown.
func (r *AreaRegistry) Update(areaID string, mutate func(*AreaEntry)) (AreaEntry, bool) {
	existing, ok := r.store.get(areaID)
	if !ok {
		return AreaEntry{}, false
	}

	r.store.withLock(func(m map[string]AreaEntry) {
		delete(m, areaID)
	})
	r.unindexEntry(existing)

	mutate(&existing)
	existing.NormalizedName = normalizeName(existing.Name)
	existing.ModifiedAt = r.now()

	r.indexEntry(existing)
	return existing, true
}

// Remove deletes an area and returns the removed entry, if any.
func (r *AreaRegistry) Remove(areaID string) (AreaEntry, bool) {
	entry, ok := r.store.get(areaID)
	if !ok {
		return AreaEntry{}, false
	}
	r.store.withLock(func(m map[string]AreaEntry) {
		delete(m, areaID)
	})
	r.unindexEntry(entry)
	return entry, true
}

// Len returns the number of registered areas.
func (r *AreaRegistry) Len() int { return r.store.len() }

// All returns every registered area.
func (r *AreaRegistry) All() []AreaEntry { return r.store.all() }

func (r *AreaRegistry) String() string {
	return fmt.Sprintf("AreaRegistry(%d areas)", r.Len())
}
