package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/storage"
)

const (
	entityStorageKey          = "core.entity_registry"
	entityStorageVersion      = 1
	entityStorageMinorVersion = 1
)

// EntityEntry is a registered entity: the metadata layer sitting above
// the live state in pkg/state, tracking which platform/device/area it
// belongs to independent of whether it is currently loaded.
type EntityEntry struct {
	EntityID          string   `json:"entity_id"`
	UniqueID          string   `json:"unique_id,omitempty"`
	PreviousUniqueID  string   `json:"previous_unique_id,omitempty"`
	PreviousEntityID  *string  `json:"previous_entity_id,omitempty"`
	Platform          string   `json:"platform"`
	DeviceID          string   `json:"device_id,omitempty"`
	ConfigEntryID     string   `json:"config_entry_id,omitempty"`
	ConfigSubentryID  string   `json:"config_subentry_id,omitempty"`
	Name              string   `json:"name,omitempty"`
	OriginalName      string   `json:"original_name,omitempty"`
	SuggestedObjectID string   `json:"suggested_object_id,omitempty"`
	HasEntityName     bool     `json:"has_entity_name,omitempty"`
	DisabledBy        string   `json:"disabled_by,omitempty"`
	HiddenBy          string   `json:"hidden_by,omitempty"`
	EntityCategory    string   `json:"entity_category,omitempty"`
	DeviceClass       string   `json:"device_class,omitempty"`
	OriginalDeviceClass string `json:"original_device_class,omitempty"`
	Icon              string   `json:"icon,omitempty"`
	OriginalIcon      string   `json:"original_icon,omitempty"`
	UnitOfMeasurement string   `json:"unit_of_measurement,omitempty"`
	TranslationKey    string   `json:"translation_key,omitempty"`
	SupportedFeatures int      `json:"supported_features,omitempty"`
	Capabilities      map[string]any `json:"capabilities,omitempty"`
	Options           map[string]any `json:"options,omitempty"`
	AreaID            string   `json:"area_id,omitempty"`
	Labels            []string `json:"labels,omitempty"`
	Aliases           []string `json:"aliases,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	ModifiedAt        time.Time `json:"modified_at"`
}

// IsDisabled reports whether the entity has been disabled by any means.
func (e EntityEntry) IsDisabled() bool { return e.DisabledBy != "" }

// IsHidden reports whether the entity has been hidden by any means.
func (e EntityEntry) IsHidden() bool { return e.HiddenBy != "" }

// Domain returns the entity_id's domain segment ("light" in "light.kitchen").
func (e EntityEntry) Domain() string {
	if dot := strings.IndexByte(e.EntityID, '.'); dot >= 0 {
		return e.EntityID[:dot]
	}
	return ""
}

type entityRegistryData struct {
	Entities []EntityEntry `json:"entities"`
}

// Registry is the entity_id-keyed directory of entities, with a
// (platform, unique_id) uniqueness index and secondary indexes over
// device, config entry, area, and platform.
type Registry struct {
	store           *indexedStore[EntityEntry]
	byUniqueID      map[string]string // platform\x00unique_id -> entity_id
	byDeviceID      map[string]map[string]bool
	byConfigEntryID map[string]map[string]bool
	byAreaID        map[string]map[string]bool
	byPlatform      map[string]map[string]bool
	storage         *storage.Storage
	now             core.Clock
}

// NewRegistry creates an empty entity registry backed by s.
func NewRegistry(s *storage.Storage, now core.Clock) *Registry {
	return &Registry{
		store:           newIndexedStore[EntityEntry](),
		byUniqueID:      make(map[string]string),
		byDeviceID:      make(map[string]map[string]bool),
		byConfigEntryID: make(map[string]map[string]bool),
		byAreaID:        make(map[string]map[string]bool),
		byPlatform:      make(map[string]map[string]bool),
		storage:         s,
		now:             now,
	}
}

func uniqueKey(platform, uniqueID string) string {
	return platform + "\x00" + uniqueID
}

// Load reads persisted entities from storage, if present.
func (r *Registry) Load() error {
	var data entityRegistryData
	ok, err := r.storage.Load(entityStorageKey, entityStorageVersion, entityStorageMinorVersion, &data)
	if err != nil || !ok {
		return err
	}
	for _, entry := range data.Entities {
		r.indexEntry(entry)
	}
	return nil
}

// Save persists every entity currently registered.
func (r *Registry) Save() error {
	data := entityRegistryData{Entities: r.store.all()}
	return r.storage.Save(entityStorageKey, entityStorageVersion, entityStorageMinorVersion, data)
}

func (r *Registry) indexEntry(entry EntityEntry) {
	r.store.withLock(func(m map[string]EntityEntry) {
		m[entry.EntityID] = entry
	})
	if entry.UniqueID != "" {
		r.byUniqueID[uniqueKey(entry.Platform, entry.UniqueID)] = entry.EntityID
	}
	if entry.DeviceID != "" {
		if r.byDeviceID[entry.DeviceID] == nil {
			r.byDeviceID[entry.DeviceID] = make(map[string]bool)
		}
		r.byDeviceID[entry.DeviceID][entry.EntityID] = true
	}
	if entry.ConfigEntryID != "" {
		if r.byConfigEntryID[entry.ConfigEntryID] == nil {
			r.byConfigEntryID[entry.ConfigEntryID] = make(map[string]bool)
		}
		r.byConfigEntryID[entry.ConfigEntryID][entry.EntityID] = true
	}
	if entry.AreaID != "" {
		if r.byAreaID[entry.AreaID] == nil {
			r.byAreaID[entry.AreaID] = make(map[string]bool)
		}
		r.byAreaID[entry.AreaID][entry.EntityID] = true
	}
	if entry.Platform != "" {
		if r.byPlatform[entry.Platform] == nil {
			r.byPlatform[entry.Platform] = make(map[string]bool)
		}
		r.byPlatform[entry.Platform][entry.EntityID] = true
	}
}

func (r *Registry) unindexEntry(entry EntityEntry) {
	if entry.UniqueID != "" {
		delete(r.byUniqueID, uniqueKey(entry.Platform, entry.UniqueID))
	}
	if entry.DeviceID != "" {
		delete(r.byDeviceID[entry.DeviceID], entry.EntityID)
	}
	if entry.ConfigEntryID != "" {
		delete(r.byConfigEntryID[entry.ConfigEntryID], entry.EntityID)
	}
	if entry.AreaID != "" {
		delete(r.byAreaID[entry.AreaID], entry.EntityID)
	}
	if entry.Platform != "" {
		delete(r.byPlatform[entry.Platform], entry.EntityID)
	}
}

// Get returns the entity with the given entity_id. If entityID is not
// currently registered, it falls back to a previous_entity_id match so a
// one-time rename doesn't break callers holding the old id.
func (r *Registry) Get(entityID string) (EntityEntry, bool) {
	if entry, ok := r.store.get(entityID); ok {
		return entry, true
	}
	var found EntityEntry
	var ok bool
	r.store.withRLock(func(m map[string]EntityEntry) {
		for _, entry := range m {
			if entry.PreviousEntityID != nil && *entry.PreviousEntityID == entityID {
				found, ok = entry, true
				return
			}
		}
	})
	return found, ok
}

// GetByUniqueID looks up an entity by (platform, unique_id).
func (r *Registry) GetByUniqueID(platform, uniqueID string) (EntityEntry, bool) {
	entityID, ok := r.byUniqueID[uniqueKey(platform, uniqueID)]
	if !ok {
		return EntityEntry{}, false
	}
	return r.store.get(entityID)
}

// GetByDeviceID returns every entity belonging to deviceID.
func (r *Registry) GetByDeviceID(deviceID string) []EntityEntry {
	return r.collect(r.byDeviceID[deviceID])
}

// GetByConfigEntryID returns every entity belonging to configEntryID.
func (r *Registry) GetByConfigEntryID(configEntryID string) []EntityEntry {
	return r.collect(r.byConfigEntryID[configEntryID])
}

// GetByAreaID returns every entity directly assigned to areaID.
func (r *Registry) GetByAreaID(areaID string) []EntityEntry {
	return r.collect(r.byAreaID[areaID])
}

// GetByPlatform returns every entity registered by platform.
func (r *Registry) GetByPlatform(platform string) []EntityEntry {
	return r.collect(r.byPlatform[platform])
}

func (r *Registry) collect(ids map[string]bool) []EntityEntry {
	var out []EntityEntry
	for id := range ids {
		if entry, ok := r.store.get(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// GetOrCreate looks up an entity by (platform, unique_id); if none
// exists, it registers a new one at domain.objectID (objectID defaults
// to uniqueID when suggestedObjectID is empty).
func (r *Registry) GetOrCreate(domain, platform, uniqueID, configEntryID, deviceID, suggestedObjectID string) EntityEntry {
	if existing, ok := r.GetByUniqueID(platform, uniqueID); ok {
		return existing
	}

	objectID := suggestedObjectID
	if objectID == "" {
		objectID = uniqueID
	}
	entityID := fmt.Sprintf("%s.%s", domain, objectID)

	now := r.now()
	entry := EntityEntry{
		EntityID:      entityID,
		UniqueID:      uniqueID,
		Platform:      platform,
		ConfigEntryID: configEntryID,
		DeviceID:      deviceID,
		CreatedAt:     now,
		ModifiedAt:    now,
	}
	r.indexEntry(entry)
	return entry
}

// Update applies mutate to the entity's current entry, reindexes it, and
// returns the updated entry. If mutate changes EntityID, the prior id is
// recorded as PreviousEntityID (one-time: only the most recent rename is
// tracked, no multi-hop chain). Returns false if entityID is unknown.
func (r *Registry) Update(entityID string, mutate func(*EntityEntry)) (EntityEntry, bool) {
	existing, ok := r.store.get(entityID)
	if !ok {
		return EntityEntry{}, false
	}
	originalEntityID := existing.EntityID

	r.store.withLock(func(m map[string]EntityEntry) {
		delete(m, entityID)
	})
	r.unindexEntry(existing)

	mutate(&existing)
	if existing.EntityID != originalEntityID {
		prev := originalEntityID
		existing.PreviousEntityID = &prev
	}
	existing.ModifiedAt = r.now()

	r.indexEntry(existing)
	return existing, true
}

// Remove deletes an entity and returns the removed entry, if any.
func (r *Registry) Remove(entityID string) (EntityEntry, bool) {
	entry, ok := r.store.get(entityID)
	if !ok {
		return EntityEntry{}, false
	}
	r.store.withLock(func(m map[string]EntityEntry) {
		delete(m, entityID)
	})
	r.unindexEntry(entry)
	return entry, true
}

// Len returns the number of registered entities.
func (r *Registry) Len() int { return r.store.len() }

// All returns every registered entity.
func (r *Registry) All() []EntityEntry { return r.store.all() }

// EntityIDs returns the entity_id of every registered entity.
func (r *Registry) EntityIDs() []string {
	entries := r.store.all()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.EntityID)
	}
	return out
}
