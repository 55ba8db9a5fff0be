// Package urimap owns the persistent association between opaque identifiers
// and storage keys. The forward table (id -> key) is the source of truth; a
// reverse index (key -> id) is rebuilt on load and kept in sync on every
// mutation so key lookups never scan the whole table.
package urimap

import (
	"errors"
	"fmt"
	"sort"

	"github.com/permauri/permauri/internal/idgen"
)

// maxGenerateAttempts bounds collision retries in GetOrCreate. With a
// 64^21 identifier space a single retry is already astronomically unlikely;
// exhausting all attempts means the random source is broken.
const maxGenerateAttempts = 16

// ErrCollisionExhausted is returned when identifier generation keeps
// colliding with existing entries. Treated as a fatal, alerting condition.
var ErrCollisionExhausted = errors.New("identifier generation exhausted collision retries")

// Map is the in-memory identifier table. It is not safe for concurrent
// use; callers load, mutate, and save through a Store.
type Map struct {
	forward map[string]string // id -> key
	reverse map[string]string // key -> id
}

// NewMap returns an empty identifier map.
func NewMap() *Map {
	return &Map{
		forward: make(map[string]string),
		reverse: make(map[string]string),
	}
}

// Len returns the number of live entries.
func (m *Map) Len() int {
	return len(m.forward)
}

// KeyForID returns the storage key an identifier currently resolves to.
func (m *Map) KeyForID(id string) (string, bool) {
	key, ok := m.forward[id]
	return key, ok
}

// IDForKey returns the identifier assigned to a storage key, via the
// reverse index.
func (m *Map) IDForKey(key string) (string, bool) {
	id, ok := m.reverse[key]
	return id, ok
}

// Set inserts a new entry. It refuses to assign a second identifier to a
// key that already has one, and refuses to reuse a live identifier: ids are
// immutable once assigned, and each key has at most one live entry.
func (m *Map) Set(id, key string) error {
	if existing, ok := m.reverse[key]; ok && existing != id {
		return fmt.Errorf("key %q already mapped to identifier %s", key, existing)
	}
	if existing, ok := m.forward[id]; ok && existing != key {
		return fmt.Errorf("identifier %s already mapped to key %q", id, existing)
	}
	m.forward[id] = key
	m.reverse[key] = id
	return nil
}

// GetOrCreate returns the identifier for key, generating and inserting a
// fresh one when none exists. Generated candidates that collide with a live
// identifier are re-drawn, up to maxGenerateAttempts.
func (m *Map) GetOrCreate(key string, gen *idgen.Generator) (id string, created bool, err error) {
	if id, ok := m.reverse[key]; ok {
		return id, false, nil
	}
	for attempt := 0; attempt < maxGenerateAttempts; attempt++ {
		candidate, err := gen.Generate()
		if err != nil {
			return "", false, err
		}
		if _, taken := m.forward[candidate]; taken {
			continue
		}
		m.forward[candidate] = key
		m.reverse[key] = candidate
		return candidate, true, nil
	}
	return "", false, ErrCollisionExhausted
}

// Rewrite repoints the identifier mapped to oldKey at newKey, preserving
// the identifier itself. It reports whether anything changed. The rewrite
// is skipped when oldKey has no identifier, or when newKey already carries
// a different live identifier (rewriting would give the key two entries).
func (m *Map) Rewrite(oldKey, newKey string) bool {
	id, ok := m.reverse[oldKey]
	if !ok {
		return false
	}
	if oldKey == newKey {
		return false
	}
	if _, taken := m.reverse[newKey]; taken {
		return false
	}
	m.forward[id] = newKey
	delete(m.reverse, oldKey)
	m.reverse[newKey] = id
	return true
}

// DeleteByKey removes the entry for key, returning the identifier that was
// dropped.
func (m *Map) DeleteByKey(key string) (string, bool) {
	id, ok := m.reverse[key]
	if !ok {
		return "", false
	}
	delete(m.forward, id)
	delete(m.reverse, key)
	return id, true
}

// DeleteID removes the entry for an identifier.
func (m *Map) DeleteID(id string) bool {
	key, ok := m.forward[id]
	if !ok {
		return false
	}
	delete(m.forward, id)
	delete(m.reverse, key)
	return true
}

// IDs returns all identifiers in sorted order for deterministic iteration.
func (m *Map) IDs() []string {
	ids := make([]string, 0, len(m.forward))
	for id := range m.forward {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// URLRef pairs the public URL for an identifier with the storage key it
// currently resolves to.
type URLRef struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

// ExportURLs renders the full map as id -> {url, path}, with the URL built
// by appending the identifier to baseURL. Used by the export command to
// produce a shareable listing of every permanent URL.
func (m *Map) ExportURLs(baseURL string) map[string]URLRef {
	out := make(map[string]URLRef, len(m.forward))
	for id, key := range m.forward {
		out[id] = URLRef{URL: baseURL + id, Path: key}
	}
	return out
}
