// Package layout persists the order in which each camera's presets are
// shown. The order is presentation metadata; the camera never sees it.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"ptz-presets/snap"
)

// Manager handles loading, saving, and updating the layout store.
type Manager struct {
	mu       sync.RWMutex
	filePath string
	store    Store
}

// NewManager loads the layout from filePath, or starts empty if the file
// does not exist. Returns an error only on unexpected I/O failures.
func NewManager(filePath string) (*Manager, error) {
	m := &Manager{filePath: filePath, store: Store{Cameras: map[string][]string{}}}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return m, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, &m.store); err != nil {
		return nil, fmt.Errorf("parse %s: %w", filePath, err)
	}
	if m.store.Cameras == nil {
		m.store.Cameras = map[string][]string{}
	}
	return m, nil
}

// Get returns a snapshot of the current store.
func (m *Manager) Get() Store {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyStore(m.store)
}

// Order returns the panel order of camera reconciled against known, the
// tokens the camera currently reports in device order. Saved tokens the
// camera no longer knows are dropped; new tokens are appended in device
// order. Without a saved order the device order is used.
func (m *Manager) Order(camera string, known []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return reconcile(m.store.Cameras[camera], known)
}

// Reorder moves the preset at panel index from to slot to, using the same
// slot convention as the drag grid, and persists the result.
func (m *Manager) Reorder(camera string, known []string, from, to int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, err := snap.Reorder(reconcile(m.store.Cameras[camera], known), from, to)
	if err != nil {
		return nil, err
	}
	if err := m.set(camera, order); err != nil {
		return nil, err
	}
	return append([]string(nil), order...), nil
}

// SetOrder replaces the saved order of camera and persists it.
func (m *Manager) SetOrder(camera string, order []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.set(camera, append([]string(nil), order...))
}

// Remove drops token from the saved order of camera. A token that is not
// saved is ignored.
func (m *Manager) Remove(camera, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	saved, ok := m.store.Cameras[camera]
	if !ok {
		return nil
	}
	order := make([]string, 0, len(saved))
	for _, t := range saved {
		if t != token {
			order = append(order, t)
		}
	}
	if len(order) == len(saved) {
		return nil
	}
	return m.set(camera, order)
}

// Save writes the current store to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeAtomic(m.store)
}

// set writes the store with camera's order replaced and only then updates
// the in-memory state. Caller must hold m.mu.
func (m *Manager) set(camera string, order []string) error {
	next := copyStore(m.store)
	next.Cameras[camera] = order
	if err := m.writeAtomic(next); err != nil {
		return err
	}
	m.store = next
	return nil
}

// writeAtomic writes to a temp file then renames it over filePath.
func (m *Manager) writeAtomic(store Store) error {
	dir := filepath.Dir(m.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp := m.filePath + ".tmp"
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, m.filePath)
}

func reconcile(saved, known []string) []string {
	present := make(map[string]bool, len(known))
	for _, t := range known {
		present[t] = true
	}
	order := make([]string, 0, len(known))
	seen := make(map[string]bool, len(known))
	for _, t := range saved {
		if present[t] && !seen[t] {
			seen[t] = true
			order = append(order, t)
		}
	}
	for _, t := range known {
		if !seen[t] {
			seen[t] = true
			order = append(order, t)
		}
	}
	return order
}

func copyStore(s Store) Store {
	cameras := make(map[string][]string, len(s.Cameras))
	for name, order := range s.Cameras {
		cp := make([]string, len(order))
		copy(cp, order)
		cameras[name] = cp
	}
	return Store{Cameras: cameras}
}
