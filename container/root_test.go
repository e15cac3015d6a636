package container

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadden/cp2/cp2fs"
	_ "github.com/fadden/cp2/plugins/gzipfmt"
)

func writeTestGzip(t *testing.T, path string, payload []byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// TestOpenExtArchive_IdentifiesHostFile covers the base case of spec.md
// §6's open_ext_archive: a bare gzip file with no further path components
// resolves to the gzip Archive itself.
func TestOpenExtArchive_IdentifiesHostFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.gz")
	writeTestGzip(t, path, []byte("hello world"))

	root, result, err := OpenExtArchive(context.Background(), path, WalkOptions{})
	require.NoError(t, err)
	defer root.Close(context.Background())

	_, ok := result.Content.(interface{ Writable() bool })
	assert.True(t, ok)
	assert.Equal(t, path, root.HostPath())
}

// TestOpenExtArchive_ReusesRootForOverlappingPaths covers spec.md P2/P3
// and Invariant 1: two OpenExtArchive calls naming the same host file,
// even spelled differently (relative vs. absolute), must share one Root
// rather than opening the host file twice.
func TestOpenExtArchive_ReusesRootForOverlappingPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.gz")
	writeTestGzip(t, path, []byte("shared"))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	root1, _, err := OpenExtArchive(context.Background(), "data.gz", WalkOptions{})
	require.NoError(t, err)
	defer root1.Close(context.Background())

	root2, _, err := OpenExtArchive(context.Background(), "./data.gz", WalkOptions{})
	require.NoError(t, err)
	defer root2.Close(context.Background())

	assert.Same(t, root1, root2)
	assert.Equal(t, 2, root1.refs)
}

// TestOpenExtArchive_CloseUnrefsAndForgets covers the refcounted Close
// half of the same lifecycle: the tree is only dropped, and the host path
// forgotten from the dedup registry, once every reference is released.
func TestOpenExtArchive_CloseUnrefsAndForgets(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.gz")
	writeTestGzip(t, path, []byte("refcount me"))
	ctx := context.Background()

	root1, _, err := OpenExtArchive(ctx, path, WalkOptions{})
	require.NoError(t, err)
	root2, _, err := OpenExtArchive(ctx, path, WalkOptions{})
	require.NoError(t, err)
	require.Same(t, root1, root2)
	require.Equal(t, 2, root1.refs)

	require.NoError(t, root1.Close(ctx))
	assert.Equal(t, 1, root1.refs)

	require.NoError(t, root2.Close(ctx))
	assert.Equal(t, 0, root1.refs)

	// With every reference released, a fresh open must produce a new
	// Root rather than resurrecting the dropped one.
	root3, _, err := OpenExtArchive(ctx, path, WalkOptions{})
	require.NoError(t, err)
	defer root3.Close(ctx)
	assert.NotSame(t, root1, root3)
}

// TestOpenExtArchive_DistinctFilesGetDistinctRoots is the negative
// counterpart of the reuse test: two different host files must never be
// folded into a single Root just because they share a directory.
func TestOpenExtArchive_DistinctFilesGetDistinctRoots(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.gz")
	pathB := filepath.Join(dir, "b.gz")
	writeTestGzip(t, pathA, []byte("a"))
	writeTestGzip(t, pathB, []byte("b"))
	ctx := context.Background()

	rootA, _, err := OpenExtArchive(ctx, pathA, WalkOptions{})
	require.NoError(t, err)
	defer rootA.Close(ctx)

	rootB, _, err := OpenExtArchive(ctx, pathB, WalkOptions{})
	require.NoError(t, err)
	defer rootB.Close(ctx)

	assert.NotSame(t, rootA, rootB)
}

// TestOpenExtArchive_MissingHostFileIsNotFound covers the error path: a
// nonexistent host file surfaces as a NotFound error, not a panic, and
// leaves no trace in the dedup registry.
func TestOpenExtArchive_MissingHostFileIsNotFound(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.gz")

	_, _, err := OpenExtArchive(context.Background(), path, WalkOptions{})
	require.Error(t, err)
	assert.True(t, cp2fs.Is(err, cp2fs.KindNotFound))
}

// TestOpenExtArchive_UnrecognizedHostFileErrors covers spec.md §4.2: a
// host file that no registered Prober recognizes is rejected up front
// rather than silently treated as a plain host file.
func TestOpenExtArchive_UnrecognizedHostFileErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plain.txt")
	require.NoError(t, os.WriteFile(path, []byte("not a container"), 0o644))

	_, _, err := OpenExtArchive(context.Background(), path, WalkOptions{})
	require.Error(t, err)
}
