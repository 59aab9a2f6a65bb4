// Package store persists the last successfully connected device id.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Record is the persisted last-known-device entry.
type Record struct {
	DeviceID string `yaml:"last_device_id"`
}

// Store keeps a single Record. Load returns ok=false when nothing is stored.
type Store interface {
	Load() (rec Record, ok bool, err error)
	Save(rec Record) error
	Clear() error
}

// File is a YAML-file backed Store.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile returns a store writing to path. The parent directory is created on Save.
func NewFile(path string) *File {
	return &File{path: path}
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load() (Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	var rec Record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, false, fmt.Errorf("failed to parse %s: %w", f.path, err)
	}
	rec.DeviceID = strings.TrimSpace(rec.DeviceID)
	if rec.DeviceID == "" {
		return Record{}, false, nil
	}
	return rec, true, nil
}

func (f *File) Save(rec Record) error {
	if strings.TrimSpace(rec.DeviceID) == "" {
		return fmt.Errorf("device id is empty")
	}

	data, err := yaml.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *File) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", f.path, err)
	}
	return nil
}

// Memory is an in-process Store.
type Memory struct {
	mu  sync.Mutex
	rec *Record
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load() (Record, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec == nil {
		return Record{}, false, nil
	}
	return *m.rec, true, nil
}

func (m *Memory) Save(rec Record) error {
	if strings.TrimSpace(rec.DeviceID) == "" {
		return fmt.Errorf("device id is empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = &rec
	return nil
}

func (m *Memory) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = nil
	return nil
}
