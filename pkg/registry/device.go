package registry

import (
	"time"

	"github.com/cuemby/hassd/pkg/core"
	"github.com/cuemby/hassd/pkg/ids"
	"github.com/cuemby/hassd/pkg/storage"
)

const (
	deviceStorageKey          = "core.device_registry"
	deviceStorageVersion      = 1
	deviceStorageMinorVersion = 1
)

// DeviceIdentifier is a (domain, id) pair an integration uses to
// recognize a physical device across restarts (e.g. a serial number or
// a vendor's cloud device id).
type DeviceIdentifier struct {
	Domain string `json:"domain"`
	ID     string `json:"id"`
}

// DeviceConnection is a (connection_type, id) pair identifying a device
// by a network-level address, e.g. ("mac", "aa:bb:cc:dd:ee:ff").
type DeviceConnection struct {
	ConnectionType string `json:"connection_type"`
	ID             string `json:"id"`
}

// DeviceEntry is a registered physical or logical device, grouping the
// entities it exposes.
type DeviceEntry struct {
	ID                 string             `json:"id"`
	Identifiers        []DeviceIdentifier `json:"identifiers,omitempty"`
	Connections        []DeviceConnection `json:"connections,omitempty"`
	ConfigEntries      []string           `json:"config_entries,omitempty"`
	PrimaryConfigEntry string             `json:"primary_config_entry,omitempty"`
	Name               string             `json:"name"`
	NameByUser         string             `json:"name_by_user,omitempty"`
	Manufacturer       string             `json:"manufacturer,omitempty"`
	Model              string             `json:"model,omitempty"`
	ModelID            string             `json:"model_id,omitempty"`
	HwVersion          string             `json:"hw_version,omitempty"`
	SwVersion          string             `json:"sw_version,omitempty"`
	SerialNumber       string             `json:"serial_number,omitempty"`
	ViaDeviceID        string             `json:"via_device_id,omitempty"`
	EntryType          string             `json:"entry_type,omitempty"`
	DisabledBy         string             `json:"disabled_by,omitempty"`
	ConfigurationURL   string             `json:"configuration_url,omitempty"`
	AreaID             string             `json:"area_id,omitempty"`
	Labels             []string           `json:"labels,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	ModifiedAt         time.Time          `json:"modified_at"`
}

// IsDisabled reports whether the device has been disabled by any means.
func (d DeviceEntry) IsDisabled() bool { return d.DisabledBy != "" }

func hasIdentifier(d DeviceEntry, domain, id string) bool {
	for _, ident := range d.Identifiers {
		if ident.Domain == domain && ident.ID == id {
			return true
		}
	}
	return false
}

func hasConnection(d DeviceEntry, connType, id string) bool {
	for _, conn := range d.Connections {
		if conn.ConnectionType == connType && conn.ID == id {
			return true
		}
	}
	return false
}

type deviceRegistryData struct {
	Devices []DeviceEntry `json:"devices"`
}

// DeviceRegistry is the id-keyed directory of devices, with secondary
// indexes over identifiers, connections, config entries, and area.
type DeviceRegistry struct {
	store         *indexedStore[DeviceEntry]
	byIdentifier  map[DeviceIdentifier]string
	byConnection  map[DeviceConnection]string
	byConfigEntry map[string]map[string]bool
	byAreaID      map[string]map[string]bool
	byViaDeviceID map[string]map[string]bool
	storage       *storage.Storage
	now           core.Clock
}

// NewDeviceRegistry creates an empty device registry backed by s.
func NewDeviceRegistry(s *storage.Storage, now core.Clock) *DeviceRegistry {
	return &DeviceRegistry{
		store:         newIndexedStore[DeviceEntry](),
		byIdentifier:  make(map[DeviceIdentifier]string),
		byConnection:  make(map[DeviceConnection]string),
		byConfigEntry: make(map[string]map[string]bool),
		byAreaID:      make(map[string]map[string]bool),
		byViaDeviceID: make(map[string]map[string]bool),
		storage:       s,
		now:           now,
	}
}

// Load reads persisted devices from storage, if present.
func (r *DeviceRegistry) Load() error {
	var data deviceRegistryData
	ok, err := r.storage.Load(deviceStorageKey, deviceStorageVersion, deviceStorageMinorVersion, &data)
	if err != nil || !ok {
		return err
	}
	for _, entry := range data.Devices {
		r.indexEntry(entry)
	}
	return nil
}

// Save persists every device currently registered.
func (r *DeviceRegistry) Save() error {
	data := deviceRegistryData{Devices: r.store.all()}
	return r.storage.Save(deviceStorageKey, deviceStorageVersion, deviceStorageMinorVersion, data)
}

func (r *DeviceRegistry) indexEntry(entry DeviceEntry) {
	r.store.withLock(func(m map[string]DeviceEntry) {
		m[entry.ID] = entry
	})
	for _, ident := range entry.Identifiers {
		r.byIdentifier[ident] = entry.ID
	}
	for _, conn := range entry.Connections {
		r.byConnection[conn] = entry.ID
	}
	for _, ce := range entry.ConfigEntries {
		if r.byConfigEntry[ce] == nil {
			r.byConfigEntry[ce] = make(map[string]bool)
		}
		r.byConfigEntry[ce][entry.ID] = true
	}
	if entry.AreaID != "" {
		if r.byAreaID[entry.AreaID] == nil {
			r.byAreaID[entry.AreaID] = make(map[string]bool)
		}
		r.byAreaID[entry.AreaID][entry.ID] = true
	}
	if entry.ViaDeviceID != "" {
		if r.byViaDeviceID[entry.ViaDeviceID] == nil {
			r.byViaDeviceID[entry.ViaDeviceID] = make(map[string]bool)
		}
		r.byViaDeviceID[entry.ViaDeviceID][entry.ID] = true
	}
}

func (r *DeviceRegistry) unindexEntry(entry DeviceEntry) {
	for _, ident := range entry.Identifiers {
		delete(r.byIdentifier, ident)
	}
	for _, conn := range entry.Connections {
		delete(r.byConnection, conn)
	}
	for _, ce := range entry.ConfigEntries {
		delete(r.byConfigEntry[ce], entry.ID)
	}
	if entry.AreaID != "" {
		delete(r.byAreaID[entry.AreaID], entry.ID)
	}
	if entry.ViaDeviceID != "" {
		delete(r.byViaDeviceID[entry.ViaDeviceID], entry.ID)
	}
}

// Get returns the device with the given id.
func (r *DeviceRegistry) Get(deviceID string) (DeviceEntry, bool) {
	return r.store.get(deviceID)
}

// GetByIdentifier looks up a device by one of its identifiers.
func (r *DeviceRegistry) GetByIdentifier(domain, id string) (DeviceEntry, bool) {
	deviceID, ok := r.byIdentifier[DeviceIdentifier{Domain: domain, ID: id}]
	if !ok {
		return DeviceEntry{}, false
	}
	return r.store.get(deviceID)
}

// GetByConnection looks up a device by one of its connections.
func (r *DeviceRegistry) GetByConnection(connType, id string) (DeviceEntry, bool) {
	deviceID, ok := r.byConnection[DeviceConnection{ConnectionType: connType, ID: id}]
	if !ok {
		return DeviceEntry{}, false
	}
	return r.store.get(deviceID)
}

// GetByConfigEntryID returns every device registered against configEntryID.
func (r *DeviceRegistry) GetByConfigEntryID(configEntryID string) []DeviceEntry {
	var out []DeviceEntry
	for id := range r.byConfigEntry[configEntryID] {
		if entry, ok := r.store.get(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// GetByAreaID returns every device registered in areaID.
func (r *DeviceRegistry) GetByAreaID(areaID string) []DeviceEntry {
	var out []DeviceEntry
	for id := range r.byAreaID[areaID] {
		if entry, ok := r.store.get(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// GetChildren returns every device whose via_device_id points at deviceID,
// e.g. the battery-powered end devices hanging off a Zigbee coordinator.
func (r *DeviceRegistry) GetChildren(deviceID string) []DeviceEntry {
	var out []DeviceEntry
	for id := range r.byViaDeviceID[deviceID] {
		if entry, ok := r.store.get(id); ok {
			out = append(out, entry)
		}
	}
	return out
}

// GetOrCreate looks up a device by any of the given identifiers or
// connections, returning the first match; if none match, it registers a
// new device with those identifiers/connections and name.
func (r *DeviceRegistry) GetOrCreate(identifiers []DeviceIdentifier, connections []DeviceConnection, configEntryID, name string) DeviceEntry {
	for _, ident := range identifiers {
		if entry, ok := r.GetByIdentifier(ident.Domain, ident.ID); ok {
			return entry
		}
	}
	for _, conn := range connections {
		if entry, ok := r.GetByConnection(conn.ConnectionType, conn.ID); ok {
			return entry
		}
	}

	if name == "" {
		name = "Unknown Device"
	}
	now := r.now()
	entry := DeviceEntry{
		ID:          ids.New(now),
		Identifiers: append([]DeviceIdentifier(nil), identifiers...),
		Connections: append([]DeviceConnection(nil), connections...),
		Name:        name,
		CreatedAt:   now,
		ModifiedAt:  now,
	}
	if configEntryID != "" {
		entry.ConfigEntries = []string{configEntryID}
		entry.PrimaryConfigEntry = configEntryID
	}
	r.indexEntry(entry)
	return entry
}

// Update applies mutate to the device's current entry, reindexes it, and
// returns the updated entry. Returns false if deviceID is unknown.
func (r *DeviceRegistry) Update(deviceID string, mutate func(*DeviceEntry)) (DeviceEntry, bool) {
	existing, ok := r.store.get(deviceID)
	if !ok {
		return DeviceEntry{}, false
	}

	r.store.withLock(func(m map[string]DeviceEntry) {
		delete(m, deviceID)
	})
	r.unindexEntry(existing)

	mutate(&existing)
	existing.ModifiedAt = r.now()

	r.indexEntry(existing)
	return existing, true
}

// Remove deletes a device and returns the removed entry, if any.
func (r *DeviceRegistry) Remove(deviceID string) (DeviceEntry, bool) {
	entry, ok := r.store.get(deviceID)
	if !ok {
		return DeviceEntry{}, false
	}
	r.store.withLock(func(m map[string]DeviceEntry) {
		delete(m, deviceID)
	})
	r.unindexEntry(entry)
	return entry, true
}

// Len returns the number of registered devices.
func (r *DeviceRegistry) Len() int { return r.store.len() }

// All returns every registered device.
func (r *DeviceRegistry) All() []DeviceEntry { return r.store.all() }

// DeviceIDs returns the ids of every registered device.
func (r *DeviceRegistry) DeviceIDs() []string {
	entries := r.store.all()
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}
