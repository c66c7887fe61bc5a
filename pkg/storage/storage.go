// Package storage implements the versioned-JSON-file persistence layer
// used by every registry, mirroring Home Assistant's ".storage/"
// directory: one JSON file per key, written atomically via a temp file
// plus rename, with an explicit major/minor version envelope.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/hassd/internal/log"
	"github.com/cuemby/hassd/pkg/core"
)

// File is the on-disk envelope wrapping every stored value.
type File struct {
	Version      int             `json:"version"`
	MinorVersion int             `json:"minor_version"`
	Key          string          `json:"key"`
	Data         json.RawMessage `json:"data"`
}

// Storage reads and writes versioned JSON files under a ".storage/"
// directory, one file per key.
type Storage struct {
	dir string
}

// New creates a Storage rooted at configDir/.storage.
func New(configDir string) *Storage {
	return &Storage{dir: filepath.Join(configDir, ".storage")}
}

// Dir returns the storage directory path.
func (s *Storage) Dir() string { return s.dir }

func (s *Storage) filePath(key string) string {
	return filepath.Join(s.dir, key)
}

func (s *Storage) ensureDir() error {
	return os.MkdirAll(s.dir, 0o755)
}

// Exists reports whether a storage file for key is present.
func (s *Storage) Exists(key string) bool {
	_, err := os.Stat(s.filePath(key))
	return err == nil
}

// Load reads the envelope for key and unmarshals its data into out. It
// returns (false, nil) if the key has no storage file.
func (s *Storage) Load(key string, version, minorVersion int, out any) (bool, error) {
	path := s.filePath(key)
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var file File
	if err := json.Unmarshal(content, &file); err != nil {
		return false, fmt.Errorf("%w: %s: %v", core.ErrParse, key, err)
	}

	if file.Version != version {
		return false, fmt.Errorf("%w: %s: expected %d, found %d", core.ErrVersionMismatch, key, version, file.Version)
	}
	if file.MinorVersion < minorVersion {
		log.WithComponent("storage").Warn().
			Str("key", key).Int("found_minor", file.MinorVersion).Int("current_minor", minorVersion).
			Msg("storage file has an older minor version")
	}

	if err := json.Unmarshal(file.Data, out); err != nil {
		return false, fmt.Errorf("%w: %s: %v", core.ErrParse, key, err)
	}
	return true, nil
}

// Save serializes data and atomically writes the envelope for key:
// write to a temp file, then rename over the real path.
func (s *Storage) Save(key string, version, minorVersion int, data any) error {
	if err := s.ensureDir(); err != nil {
		return err
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}

	file := File{Version: version, MinorVersion: minorVersion, Key: key, Data: raw}
	content, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return err
	}

	path := s.filePath(key)
	tempPath := s.filePath(key + ".tmp")

	if err := os.WriteFile(tempPath, content, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tempPath, path); err != nil {
		return err
	}

	log.WithComponent("storage").Debug().Str("key", key).
		Int("version", version).Int("minor_version", minorVersion).
		Msg("saved storage file")
	return nil
}

// Delete removes the storage file for key, if present.
func (s *Storage) Delete(key string) error {
	path := s.filePath(key)
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// ListKeys returns every storage key present, excluding in-progress
// ".tmp" writes.
func (s *Storage) ListKeys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".tmp") {
			continue
		}
		keys = append(keys, name)
	}
	return keys, nil
}
