package container

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTempStore_SizeHintSelectsImplementation(t *testing.T) {
	small, err := NewTempStore(1024)
	require.NoError(t, err)
	defer small.Close()
	assert.IsType(t, &memStore{}, small)

	large, err := NewTempStore(memStoreThreshold + 1)
	require.NoError(t, err)
	defer large.Close()
	assert.IsType(t, &fileStore{}, large)

	unknown, err := NewTempStore(-1)
	require.NoError(t, err)
	defer unknown.Close()
	assert.IsType(t, &fileStore{}, unknown)
}

func TestTempStore_WriteThenReadBack(t *testing.T) {
	for name, store := range map[string]TempStore{
		"mem":  newMemStore(),
		"file": mustFileStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			n, err := store.Write([]byte("hello world"))
			require.NoError(t, err)
			assert.Equal(t, 11, n)
			assert.Equal(t, int64(11), store.Size())

			buf := make([]byte, 5)
			n, err = store.ReadAt(buf, 6)
			require.NoError(t, err)
			assert.Equal(t, "world", string(buf[:n]))
		})
	}
}

func TestTempStore_SeekAndReadSequential(t *testing.T) {
	store := newMemStore()
	defer store.Close()
	_, err := store.Write([]byte("0123456789"))
	require.NoError(t, err)

	_, err = store.Seek(3, io.SeekStart)
	require.NoError(t, err)
	buf := make([]byte, 4)
	n, err := store.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "3456", string(buf[:n]))
}

// TestTempStore_TruncateShrinksSize covers spec.md §4.6's commit step: a
// store that previously held more bytes than a later write produces must
// not keep reporting the old, longer extent, or a subsequent whole-stream
// read picks up stale trailing bytes past the real new end.
func TestTempStore_TruncateShrinksSize(t *testing.T) {
	for name, store := range map[string]TempStore{
		"mem":  newMemStore(),
		"file": mustFileStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			_, err := store.WriteAt([]byte("0123456789"), 0)
			require.NoError(t, err)
			require.Equal(t, int64(10), store.Size())

			require.NoError(t, store.Truncate(4))
			assert.Equal(t, int64(4), store.Size())

			buf := make([]byte, 4)
			n, err := store.ReadAt(buf, 0)
			require.NoError(t, err)
			assert.Equal(t, "0123", string(buf[:n]))
		})
	}
}

// TestWriteWholeStream_ShrinksBackingStore covers the actual call path
// saveNode uses: writing fewer bytes than a store previously held must
// leave Size() and a subsequent whole-stream read reflecting only the new,
// shorter content.
func TestWriteWholeStream_ShrinksBackingStore(t *testing.T) {
	for name, store := range map[string]TempStore{
		"mem":  newMemStore(),
		"file": mustFileStore(t),
	} {
		t.Run(name, func(t *testing.T) {
			defer store.Close()
			require.NoError(t, writeWholeStream(store, []byte("a long original payload")))
			require.NoError(t, writeWholeStream(store, []byte("short")))

			assert.Equal(t, int64(5), store.Size())
			got, err := readWholeStream(store)
			require.NoError(t, err)
			assert.Equal(t, "short", string(got))
		})
	}
}

func TestTempStore_DiscardFreesResources(t *testing.T) {
	store := mustFileStore(t)
	store.Discard()
	_, err := store.WriteAt([]byte("x"), 0)
	assert.Error(t, err)
}

func mustFileStore(t *testing.T) *fileStore {
	t.Helper()
	fs, err := newFileStore()
	require.NoError(t, err)
	return fs
}
