package resolver

import (
	"context"
	mathrand "math/rand"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/permauri/permauri/internal/idgen"
	"github.com/permauri/permauri/internal/objstore"
	"github.com/permauri/permauri/internal/urimap"
)

func newTestResolver(t *testing.T) (*Resolver, *urimap.Store, *objstore.MemStore) {
	t.Helper()
	maps := urimap.NewStore(memfs.New(), "uri_map.json")
	store := objstore.NewMemStore()
	gen := idgen.NewWithSource(mathrand.New(mathrand.NewSource(1)))
	r := New(maps, store, gen, zerolog.Nop())
	return r, maps, store
}

func TestRegisterThenResolve(t *testing.T) {
	r, _, store := newTestResolver(t)
	store.Put("docs/a.pdf", []byte("content"))

	id, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)
	require.True(t, idgen.Valid(id))

	key, err := r.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "docs/a.pdf", key)
}

func TestRegister_Stable(t *testing.T) {
	r, _, store := newTestResolver(t)
	store.Put("docs/a.pdf", []byte("content"))

	id1, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)
	id2, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, id1, id2, "repeated registration returns the same identifier")
}

func TestRegister_Persists(t *testing.T) {
	r, maps, _ := newTestResolver(t)

	id, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)

	m, err := maps.Load()
	require.NoError(t, err)
	key, ok := m.KeyForID(id)
	require.True(t, ok)
	assert.Equal(t, "docs/a.pdf", key)
}

func TestResolve_UnknownID(t *testing.T) {
	r, _, _ := newTestResolver(t)

	_, err := r.Resolve(context.Background(), "does-not-exist-aaaaaa")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_DeletedObjectSelfHeals(t *testing.T) {
	r, maps, store := newTestResolver(t)
	store.Put("docs/a.pdf", []byte("content"))

	id, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)

	// Object disappears from the store; resolution returns NotFound and
	// removes the stale entry as a side effect.
	store.Delete("docs/a.pdf")
	_, err = r.Resolve(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)

	r.Wait()
	m, err := maps.Load()
	require.NoError(t, err)
	_, ok := m.KeyForID(id)
	assert.False(t, ok, "stale entry must be gone after cleanup")
}

func TestResolve_StoreUnavailableServesUnverified(t *testing.T) {
	r, _, store := newTestResolver(t)
	store.Put("docs/a.pdf", []byte("content"))

	id, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)

	// With the store unreachable the mapping is served as-is; an outage
	// must not read as mass deletion.
	store.Fail = true
	key, err := r.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "docs/a.pdf", key)
}

func TestPresignURL(t *testing.T) {
	r, _, store := newTestResolver(t)
	store.Put("docs/a.pdf", []byte("content"))

	id, err := r.Register(context.Background(), "docs/a.pdf")
	require.NoError(t, err)

	url, err := r.PresignURL(context.Background(), id, time.Hour)
	require.NoError(t, err)
	assert.Contains(t, url, "mem.store.invalid")

	_, err = r.PresignURL(context.Background(), "unknown-identifier-x", time.Hour)
	assert.ErrorIs(t, err, ErrNotFound)
}
