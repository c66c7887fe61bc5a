package registry

import (
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/ids"
	"github.com/cuemby/hassd/pkg/storage"
)

const (
	floorStorageKey          = "core.floor_registry"
	floorStorageVersion      = 1
	floorStorageMinorVersion = 1
)

// FloorEntry is a registered floor/level grouping one or more areas.
type FloorEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	Level          *int      `json:"level,omitempty"`
	Aliases        []string  `json:"aliases,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

type floorRegistryData struct {
	Floors []FloorEntry `json:"floors"`
}

// FloorRegistry is the id-keyed directory of floors, with a
// normalized-name uniqueness index.
type FloorRegistry struct {
	store   *indexedStore[FloorEntry]
	byName  map[string]string
	storage *storage.Storage
	now     core.Clock
}

// NewFloorRegistry creates an empty floor registry backed by s.
func NewFloorRegistry(s *storage.Storage, now core.Clock) *FloorRegistry {
	return &FloorRegistry{
		store:   newIndexedStore[FloorEntry](),
		byName:  make(map[string]string),
		storage: s,
		now:     now,
	}
}

// Load reads persisted floors from storage, if present.
func (r *FloorRegistry) Load() error {
	var data floorRegistryData
	ok, err := r.storage.Load(floorStorageKey, floorStorageVersion, floorStorageMinorVersion, &data)
	if err != nil || !ok {
		return err
	}
	for _, entry := range data.Floors {
		r.indexEntry(entry)
	}
	return nil
}

// Save persists every floor currently registered.
func (r *FloorRegistry) Save() error {
	data := floorRegistryData{Floors: r.store.all()}
	return r.storage.Save(floorStorageKey, floorStorageVersion, floorStorageMinorVersion, data)
}

func (r *FloorRegistry) indexEntry(entry FloorEntry) {
	r.store.withLock(func(m map[string]FloorEntry) {
		m[entry.ID] = entry
	})
	if entry.NormalizedName != "" {
		r.byName[entry.NormalizedName] = entry.ID
	}
}

func (r *FloorRegistry) unindexEntry(entry FloorEntry) {
	if entry.NormalizedName != "" {
		delete(r.byName, entry.NormalizedName)
	}
}

// Get returns the floor with the given id.
func (r *FloorRegistry) Get(floorID string) (FloorEntry, bool) {
	return r.store.get(floorID)
}

// GetByName looks up a floor by its (normalized) name.
func (r *FloorRegistry) GetByName(name string) (FloorEntry, bool) {
	id, ok := r.byName[normalizeName(name)]
	if !ok {
		return FloorEntry{}, false
	}
	return r.store.get(id)
}

// Create registers a new floor and returns its entry.
func (r *FloorRegistry) Create(name string, level *int) FloorEntry {
	now := r.now()
	entry := FloorEntry{
		ID:             ids.New(now),
		Name:           name,
		NormalizedName: normalizeName(name),
		Level:          level,
		CreatedAt:      now,
		ModifiedAt:     now,
	}
	r.indexEntry(entry)
	return entry
}

// Update applies mutate to the floor's current entry, reindexes it, and
// returns the updated entry. Returns false if floorID is unknown.
func (r *FloorRegistry) Update(floorID string, mutate func(*FloorEntry)) (FloorEntry, bool) {
	existing, ok := r.store.get(floorID)
	if !ok {
		return FloorEntry{}, false
	}

	r.store.withLock(func(m map[string]FloorEntry) {
		delete(m, floorID)
	})
	r.unindexEntry(existing)

	mutate(&existing)
	existing.NormalizedName = normalizeName(existing.Name)
	existing.ModifiedAt = r.now()

	r.indexEntry(existing)
	return existing, true
}

// Remove deletes a floor and returns the removed entry, if any.
func (r *FloorRegistry) Remove(floorID string) (FloorEntry, bool) {
	entry, ok := r.store.get(floorID)
	if !ok {
		return FloorEntry{}, false
	}
	r.store.withLock(func(m map[string]FloorEntry) {
		delete(m, floorID)
	})
	r.unindexEntry(entry)
	return entry, true
}

// Len returns the number of registered floors.
func (r *FloorRegistry) Len() int { return r.store.len() }

// All returns every registered floor.
func (r *FloorRegistry) All() []FloorEntry { return r.store.all() }
