package objstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/permauri/permauri/internal/snapshot"
)

// MemStore is an in-memory Store for tests and local development. Objects
// are fingerprinted with the MD5 of their content, matching the ETag
// behavior of real S3 for simple uploads.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// Fail, when set, makes every call return ErrStoreUnavailable. Tests
	// use it to exercise the unavailable-store paths.
	Fail bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{objects: make(map[string][]byte)}
}

// Put stores content under key.
func (m *MemStore) Put(key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), content...)
}

// Delete removes key.
func (m *MemStore) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
}

// Rename moves the content at oldKey to newKey, preserving its fingerprint.
func (m *MemStore) Rename(oldKey, newKey string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if content, ok := m.objects[oldKey]; ok {
		delete(m.objects, oldKey)
		m.objects[newKey] = content
	}
}

// List implements Store.
func (m *MemStore) List(ctx context.Context) (snapshot.Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail {
		return nil, fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}

	observedAt := time.Now().UTC()
	snap := snapshot.Snapshot{}
	for key, content := range m.objects {
		if skipKey(key) {
			continue
		}
		sum := md5.Sum(content)
		snap[key] = snapshot.Entry{
			Key:         key,
			Fingerprint: hex.EncodeToString(sum[:]),
			Size:        int64(len(content)),
			ObservedAt:  observedAt,
		}
	}
	return snap, nil
}

// Exists implements Store.
func (m *MemStore) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail {
		return false, fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	_, ok := m.objects[key]
	return ok, nil
}

// PresignGet implements Store with a deterministic fake URL.
func (m *MemStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.Fail {
		return "", fmt.Errorf("%w: injected failure", ErrStoreUnavailable)
	}
	if _, ok := m.objects[key]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return fmt.Sprintf("https://mem.store.invalid/%s?expires=%d", url.PathEscape(key), int64(expiry.Seconds())), nil
}
