// Package resolver serves the identifier contract callers see: resolve an
// opaque identifier to its current storage key, and register keys observed
// outside a full reconciliation pass.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/permauri/permauri/internal/idgen"
	"github.com/permauri/permauri/internal/objstore"
	"github.com/permauri/permauri/internal/urimap"
)

// ErrNotFound means the identifier is unknown, or its object is confirmed
// gone from the store. Internal store errors are never surfaced through
// it.
var ErrNotFound = errors.New("identifier not found")

// Resolver resolves identifiers against the persisted map with a live
// existence check, self-healing entries whose objects are gone.
type Resolver struct {
	maps   *urimap.Store
	store  objstore.Store
	gen    *idgen.Generator
	logger zerolog.Logger

	// cleanupWG tracks in-flight async cleanups so tests and shutdown can
	// wait for them.
	cleanupWG sync.WaitGroup
}

// New creates a Resolver over the given map store and object store.
func New(maps *urimap.Store, store objstore.Store, gen *idgen.Generator, logger zerolog.Logger) *Resolver {
	return &Resolver{
		maps:   maps,
		store:  store,
		gen:    gen,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve returns the storage key id currently points at.
//
// When the store confirms the object no longer exists, the stale entry is
// removed in the background (resolution of live keys never waits on
// cleanup) and ErrNotFound is returned. When the existence check itself
// fails, the key is returned anyway: an unreachable store must not turn
// every live identifier into a 404.
func (r *Resolver) Resolve(ctx context.Context, id string) (string, error) {
	m, err := r.maps.Load()
	if err != nil {
		return "", fmt.Errorf("load identifier map: %w", err)
	}

	key, ok := m.KeyForID(id)
	if !ok {
		return "", ErrNotFound
	}

	exists, err := r.store.Exists(ctx, key)
	if err != nil {
		r.logger.Warn().Err(err).Str("id", id).Str("key", key).
			Msg("existence check failed, serving mapping unverified")
		return key, nil
	}
	if !exists {
		r.removeStaleAsync(id, key)
		return "", ErrNotFound
	}
	return key, nil
}

// Register assigns (or returns the existing) identifier for key, persisting
// the map when a new entry was created. This is the incremental path for
// keys observed outside a full reconciliation pass. The whole cycle runs
// inside the store's Update transaction, so a concurrent reconciliation
// save can never drop the entry handed back to the caller; on any error
// the identifier is discarded rather than returned unpersisted.
func (r *Resolver) Register(ctx context.Context, key string) (string, error) {
	var (
		id      string
		created bool
	)
	err := r.maps.Update(func(m *urimap.Map) (bool, error) {
		var err error
		id, created, err = m.GetOrCreate(key, r.gen)
		return created, err
	})
	if err != nil {
		return "", fmt.Errorf("register %q: %w", key, err)
	}
	if created {
		r.logger.Info().Str("id", id).Str("key", key).Msg("registered identifier")
	}
	return id, nil
}

// PresignURL resolves id and returns a time-limited signed retrieval URL
// for its object.
func (r *Resolver) PresignURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	key, err := r.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	url, err := r.store.PresignGet(ctx, key, expiry)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			r.removeStaleAsync(id, key)
			return "", ErrNotFound
		}
		return "", err
	}
	return url, nil
}

// removeStaleAsync drops the mapping for a confirmed-gone object without
// blocking the caller.
func (r *Resolver) removeStaleAsync(id, key string) {
	r.cleanupWG.Add(1)
	go func() {
		defer r.cleanupWG.Done()

		var removed bool
		err := r.maps.Update(func(m *urimap.Map) (bool, error) {
			// Re-check inside the transaction: a reconciliation run may
			// have already repointed or removed the entry.
			if current, ok := m.KeyForID(id); !ok || current != key {
				return false, nil
			}
			removed = m.DeleteID(id)
			return removed, nil
		})
		if err != nil {
			r.logger.Error().Err(err).Str("id", id).Msg("stale cleanup failed")
			return
		}
		if removed {
			r.logger.Info().Str("id", id).Str("key", key).Msg("removed stale identifier")
		}
	}()
}

// Wait blocks until all in-flight stale-entry cleanups have finished.
func (r *Resolver) Wait() {
	r.cleanupWG.Wait()
}
