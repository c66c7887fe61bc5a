package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/storage"
)

const (
	labelStorageKey          = "core.label_registry"
	labelStorageVersion      = 1
	labelStorageMinorVersion = 2
)

// LabelEntry is a registered label used to tag entities, devices, and
// areas. ID is slugified from the name (not a ULID): labels are meant to
// be addressed by a human-readable slug (e.g. "critical"), matching the
// source system's behavior.
type LabelEntry struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	NormalizedName string    `json:"normalized_name,omitempty"`
	Icon           string    `json:"icon,omitempty"`
	Color          string    `json:"color,omitempty"`
	Description    string    `json:"description,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	ModifiedAt     time.Time `json:"modified_at"`
}

// NewLabelEntry builds a label entry with an explicit id and timestamp,
// so tests can pin both the id and the clock.
func NewLabelEntry(id, name string, now time.Time) LabelEntry {
	return LabelEntry{
		ID:             id,
		Name:           name,
		NormalizedName: collapseName(name),
		CreatedAt:      now,
		ModifiedAt:     now,
	}
}

type labelRegistryData struct {
	Labels []LabelEntry `json:"labels"`
}

// LabelRegistry is the id-keyed directory of labels, with a
// normalized-name uniqueness index.
type LabelRegistry struct {
	store   *indexedStore[LabelEntry]
	byName  map[string]string
	storage *storage.Storage
	now     core.Clock
}

// NewLabelRegistry creates an empty label registry backed by s.
func NewLabelRegistry(s *storage.Storage, now core.Clock) *LabelRegistry {
	return &LabelRegistry{
		store:   newIndexedStore[LabelEntry](),
		byName:  make(map[string]string),
		storage: s,
		now:     now,
	}
}

// Load reads persisted labels from storage, if present.
func (r *LabelRegistry) Load() error {
	var data labelRegistryData
	ok, err := r.storage.Load(labelStorageKey, labelStorageVersion, labelStorageMinorVersion, &data)
	if err != nil || !ok {
		return err
	}
	for _, entry := range data.Labels {
		r.indexEntry(entry)
	}
	return nil
}

// Save persists every label currently registered.
func (r *LabelRegistry) Save() error {
	data := labelRegistryData{Labels: r.store.all()}
	return r.storage.Save(labelStorageKey, labelStorageVersion, labelStorageMinorVersion, data)
}

func (r *LabelRegistry) indexEntry(entry LabelEntry) {
	r.store.withLock(func(m map[string]LabelEntry) {
		m[entry.ID] = entry
	})
	if entry.NormalizedName != "" {
		r.byName[entry.NormalizedName] = entry.ID
	}
}

func (r *LabelRegistry) unindexEntry(entry LabelEntry) {
	if entry.NormalizedName != "" {
		delete(r.byName, entry.NormalizedName)
	}
}

// Get returns the label with the given id.
func (r *LabelRegistry) Get(labelID string) (LabelEntry, bool) {
	return r.store.get(labelID)
}

// GetByName looks up a label by its (normalized) name.
func (r *LabelRegistry) GetByName(name string) (LabelEntry, bool) {
	id, ok := r.byName[collapseName(name)]
	if !ok {
		return LabelEntry{}, false
	}
	return r.store.get(id)
}

// generateID slugifies name, appending a numeric suffix on collision.
func (r *LabelRegistry) generateID(name string) string {
	base := slugify(name)
	if _, exists := r.store.get(base); !exists {
		return base
	}
	for tries := 2; ; tries++ {
		candidate := fmt.Sprintf("%s_%d", base, tries)
		if _, exists := r.store.get(candidate); !exists {
			return candidate
		}
	}
}

// Create registers a new label, generating its id from name. Fails if a
// label with the same normalized name already exists.
func (r *LabelRegistry) Create(name string) (LabelEntry, error) {
	normalized := collapseName(name)
	if _, exists := r.byName[normalized]; exists {
		return LabelEntry{}, fmt.Errorf("%w: label name %q is already in use", core.ErrInvalidConfig, name)
	}

	id := r.generateID(name)
	entry := NewLabelEntry(id, name, r.now())
	r.indexEntry(entry)
	return entry, nil
}

// Update applies mutate to the label's current entry, reindexes it, and
// returns the updated entry. Fails if the mutated name collides with a
// different label's normalized name. modified_at only advances if the
// entry actually changed.
func (r *LabelRegistry) Update(labelID string, mutate func(*LabelEntry)) (LabelEntry, error) {
	existing, ok := r.store.get(labelID)
	if !ok {
		return LabelEntry{}, fmt.Errorf("%w: label %q", core.ErrNotFound, labelID)
	}
	original := existing

	r.store.withLock(func(m map[string]LabelEntry) {
		delete(m, labelID)
	})
	r.unindexEntry(existing)

	mutate(&existing)
	existing.NormalizedName = collapseName(existing.Name)

	if existing.Name != original.Name {
		if conflictID, exists := r.byName[existing.NormalizedName]; exists && conflictID != labelID {
			r.indexEntry(original)
			return LabelEntry{}, fmt.Errorf("%w: label name %q is already in use", core.ErrInvalidConfig, existing.Name)
		}
	}

	changed := existing.Name != original.Name ||
		existing.Icon != original.Icon ||
		existing.Color != original.Color ||
		existing.Description != original.Description
	if changed {
		existing.ModifiedAt = r.now()
	}

	r.indexEntry(existing)
	return existing, nil
}

// Remove deletes a label and returns the removed entry, if any.
func (r *LabelRegistry) Remove(labelID string) (LabelEntry, bool) {
	entry, ok := r.store.get(labelID)
	if !ok {
		return LabelEntry{}, false
	}
	r.store.withLock(func(m map[string]LabelEntry) {
		delete(m, labelID)
	})
	r.unindexEntry(entry)
	return entry, true
}

// Len returns the number of registered labels.
func (r *LabelRegistry) Len() int { return r.store.len() }

// All returns every registered label.
func (r *LabelRegistry) All() []LabelEntry { return r.store.all() }

// SortedByName returns every registered label, sorted by name.
func (r *LabelRegistry) SortedByName() []LabelEntry {
	labels := r.store.all()
	sort.Slice(labels, func(i, j int) bool { return labels[i].Name < labels[j].Name })
	return labels
}
