package urimap

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_LoadEmptyOnFirstRun(t *testing.T) {
	store := NewStore(memfs.New(), "uri_map.json")

	m, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, m.Len())
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	fs := memfs.New()
	store := NewStore(fs, "data/uri_map.json")

	m := NewMap()
	require.NoError(t, m.Set("id-1", "docs/a.pdf"))
	require.NoError(t, m.Set("id-2", "docs/nested/b.pdf"))
	require.NoError(t, store.Save(m))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())

	key, ok := loaded.KeyForID("id-1")
	require.True(t, ok)
	assert.Equal(t, "docs/a.pdf", key)

	// Reverse index is rebuilt on load, not persisted.
	id, ok := loaded.IDForKey("docs/nested/b.pdf")
	require.True(t, ok)
	assert.Equal(t, "id-2", id)
}

func TestStore_SaveLeavesNoTempFile(t *testing.T) {
	fs := memfs.New()
	store := NewStore(fs, "uri_map.json")

	m := NewMap()
	require.NoError(t, m.Set("id-1", "a"))
	require.NoError(t, store.Save(m))

	_, err := fs.Stat("uri_map.json.tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestStore_Update(t *testing.T) {
	store := NewStore(memfs.New(), "uri_map.json")

	require.NoError(t, store.Update(func(m *Map) (bool, error) {
		if err := m.Set("id-1", "docs/a.pdf"); err != nil {
			return false, err
		}
		return true, nil
	}))

	loaded, err := store.Load()
	require.NoError(t, err)
	key, ok := loaded.KeyForID("id-1")
	require.True(t, ok)
	assert.Equal(t, "docs/a.pdf", key)
}

func TestStore_UpdateUnchangedWritesNothing(t *testing.T) {
	inner := memfs.New()
	fs := &faultFS{Filesystem: inner, failRename: true}
	store := NewStore(fs, "uri_map.json")

	// No change reported, so no save is attempted: the broken rename path
	// is never reached.
	require.NoError(t, store.Update(func(m *Map) (bool, error) {
		return false, nil
	}))
}

func TestStore_ConcurrentUpdatesAreNotLost(t *testing.T) {
	store := NewStore(memfs.New(), "uri_map.json")

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				id := fmt.Sprintf("id-%d-%02d-aaaaaaaaaaaa", w, i)
				key := fmt.Sprintf("docs/%d/%02d.pdf", w, i)
				err := store.Update(func(m *Map) (bool, error) {
					if err := m.Set(id, key); err != nil {
						return false, err
					}
					return true, nil
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 100, loaded.Len(), "every concurrent update must survive")
}

func TestStore_LoadCorruptFile(t *testing.T) {
	fs := memfs.New()
	writeRaw(t, fs, "uri_map.json", "{not json")

	store := NewStore(fs, "uri_map.json")
	_, err := store.Load()
	require.Error(t, err)
}

// faultFS fails renames, simulating a crash between writing the new state
// and finalizing it.
type faultFS struct {
	billy.Filesystem
	failRename bool
}

func (f *faultFS) Rename(from, to string) error {
	if f.failRename {
		return errors.New("injected rename failure")
	}
	return f.Filesystem.Rename(from, to)
}

func TestStore_AtomicSave_FaultInjection(t *testing.T) {
	inner := memfs.New()
	fs := &faultFS{Filesystem: inner}
	store := NewStore(fs, "uri_map.json")

	good := NewMap()
	require.NoError(t, good.Set("id-1", "a"))
	require.NoError(t, store.Save(good))

	// A save that dies before the rename must not disturb the last good
	// persisted state.
	fs.failRename = true
	bad := NewMap()
	require.NoError(t, bad.Set("id-1", "a"))
	require.NoError(t, bad.Set("id-2", "b"))
	require.Error(t, store.Save(bad))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	key, ok := loaded.KeyForID("id-1")
	require.True(t, ok)
	assert.Equal(t, "a", key)
}

func writeRaw(t *testing.T, fs billy.Filesystem, path, content string) {
	t.Helper()
	f, err := fs.Create(path)
	require.NoError(t, err)
	_, err = strings.NewReader(content).WriteTo(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}
