package urimap

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Store persists the identifier map as a single JSON document, keyed
// id -> key. The reverse index is never persisted; Load rebuilds it.
//
// Save is a full-replace write through a temp file and an atomic rename, so
// a concurrent Load never observes a partially written map. There is no
// partial-update API: mutating callers run a load-mutate-save cycle through
// Update, which holds the write lock across the whole cycle.
type Store struct {
	fs   billy.Filesystem
	path string
	mu   sync.RWMutex
}

// NewStore creates a map store persisting to path on fs.
func NewStore(fs billy.Filesystem, path string) *Store {
	return &Store{fs: fs, path: path}
}

// Load reads the persisted map. A missing file is the first-run case and
// yields an empty map.
func (s *Store) Load() (*Map, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load()
}

func (s *Store) load() (*Map, error) {
	data, err := util.ReadFile(s.fs, s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewMap(), nil
		}
		return nil, fmt.Errorf("read identifier map: %w", err)
	}

	var forward map[string]string
	if err := json.Unmarshal(data, &forward); err != nil {
		return nil, fmt.Errorf("unmarshal identifier map: %w", err)
	}

	m := NewMap()
	for id, key := range forward {
		m.forward[id] = key
		m.reverse[key] = id
	}
	return m, nil
}

// Save atomically replaces the persisted map with m.
func (s *Store) Save(m *Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(m)
}

// Update runs one load-mutate-save cycle under the write lock: it loads
// the current map, applies fn, and persists the result when fn reports a
// change. All mutating callers go through Update, so two cycles can never
// interleave and silently drop each other's writes.
func (s *Store) Update(fn func(m *Map) (changed bool, err error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.load()
	if err != nil {
		return err
	}
	changed, err := fn(m)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return s.save(m)
}

func (s *Store) save(m *Map) error {
	data, err := json.MarshalIndent(m.forward, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal identifier map: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := util.WriteFile(s.fs, tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp map file: %w", err)
	}
	if err := s.fs.Rename(tmpPath, s.path); err != nil {
		_ = s.fs.Remove(tmpPath)
		return fmt.Errorf("rename map file: %w", err)
	}
	return nil
}
