package sync

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidkik/pairsync/pkg/errors"
)

func TestDirStoreWrite(t *testing.T) {
	fs = afero.NewMemMapFs()
	store := NewDirStore("/music")

	require.NoError(t, store.Write("song.mp3", []byte("contents")))
	contents, err := afero.ReadFile(fs, "/music/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("contents"), contents)

	// Overwrites replace the contents.
	require.NoError(t, store.Write("song.mp3", []byte("new")))
	contents, err = afero.ReadFile(fs, "/music/song.mp3")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), contents)
}

func TestDirStoreRejectsUnsafeNames(t *testing.T) {
	fs = afero.NewMemMapFs()
	store := NewDirStore("/music")

	for _, name := range []string{"", ".", "..", "../escape", "dir/file", `dir\file`, "a|b"} {
		err := store.Write(name, []byte("x"))
		var storageErr errors.StorageError
		assert.True(t, errors.As(err, &storageErr), "name %q", name)
	}

	exists, err := afero.Exists(fs, "/escape")
	assert.NoError(t, err)
	assert.False(t, exists)
}

func TestDirStoreList(t *testing.T) {
	fs = afero.NewMemMapFs()
	store := NewDirStore("/music")

	entries, err := store.List()
	assert.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, store.Init())
	exists, err := afero.DirExists(fs, "/music")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, afero.WriteFile(fs, "/music/a.mp3", []byte("a"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/music/b.mp3", []byte("b"), 0644))
	require.NoError(t, fs.MkdirAll("/music/sub", 0755))
	require.NoError(t, afero.WriteFile(fs, "/music/sub/c.mp3", []byte("c"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/music/bad|name", []byte("d"), 0644))

	entries, err = store.List()
	assert.NoError(t, err)
	assert.Equal(t, []FileEntry{
		{Name: "a.mp3", Data: []byte("a")},
		{Name: "b.mp3", Data: []byte("b")},
	}, entries)
}

func TestBuildAndRefreshIndex(t *testing.T) {
	fs = afero.NewMemMapFs()
	store := NewDirStore("/music")
	require.NoError(t, afero.WriteFile(fs, "/music/a.mp3", []byte("a"), 0644))

	idx, err := BuildIndex(store)
	require.NoError(t, err)
	assert.Equal(t, NewNameSet("a.mp3"), idx.Names())

	require.NoError(t, afero.WriteFile(fs, "/music/a.mp3", []byte("changed"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/music/b.mp3", []byte("b"), 0644))

	added, err := Refresh(store, idx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)
	assert.Equal(t, NewNameSet("a.mp3", "b.mp3"), idx.Names())

	// Already indexed names keep their contents.
	data, _ := idx.Get("a.mp3")
	assert.Equal(t, []byte("a"), data)
}

func TestDirStoreSettled(t *testing.T) {
	fs = afero.NewMemMapFs()
	clock := clockwork.NewFakeClockAt(time.Now())
	store := NewDirStore("/music").Settled(clock, 2*time.Second)

	require.NoError(t, afero.WriteFile(fs, "/music/old.mp3", []byte("old"), 0644))
	require.NoError(t, fs.Chtimes("/music/old.mp3", clock.Now(), clock.Now().Add(-time.Minute)))
	require.NoError(t, afero.WriteFile(fs, "/music/copying.mp3", []byte("partial"), 0644))
	require.NoError(t, fs.Chtimes("/music/copying.mp3", clock.Now(), clock.Now()))

	idx, err := BuildIndex(store)
	require.NoError(t, err)
	assert.Equal(t, NewNameSet("old.mp3"), idx.Names())

	// The copy finishes, and is only indexed once it stops changing.
	clock.Advance(time.Second)
	require.NoError(t, afero.WriteFile(fs, "/music/copying.mp3", []byte("complete"), 0644))
	require.NoError(t, fs.Chtimes("/music/copying.mp3", clock.Now(), clock.Now()))

	added, err := Refresh(store, idx)
	require.NoError(t, err)
	assert.Equal(t, 0, added)

	clock.Advance(2 * time.Second)
	added, err = Refresh(store, idx)
	require.NoError(t, err)
	assert.Equal(t, 1, added)

	data, ok := idx.Get("copying.mp3")
	require.True(t, ok)
	assert.Equal(t, []byte("complete"), data)
}
