package container

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSameHostFile_IdenticalPathIsSame covers spec.md P7/E2E scenario 6:
// the same path compared to itself is always the same file.
func TestSameHostFile_IdenticalPathIsSame(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	same, err := SameHostFile(path, path)
	require.NoError(t, err)
	assert.True(t, same)
}

// TestSameHostFile_RelativeVsAbsolute covers spec.md E2E scenario 6
// directly: "./x.zip" and "x.zip" from the same directory are the same
// host file despite different spelling.
func TestSameHostFile_RelativeVsAbsolute(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	same, err := SameHostFile("./x.zip", "x.zip")
	require.NoError(t, err)
	assert.True(t, same)
}

// TestSameHostFile_CaseInsensitiveComparison covers spec.md §4.7's
// safe-side policy: the comparison is case-insensitive unconditionally,
// regardless of the host filesystem's actual case sensitivity. Both
// spellings are created because a missing path is NotFound; on a
// case-sensitive host they are two distinct files that still compare equal.
func TestSameHostFile_CaseInsensitiveComparison(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x.zip")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	upper := filepath.Join(dir, "X.ZIP")
	require.NoError(t, os.WriteFile(upper, []byte("x"), 0o644))
	same, err := SameHostFile(path, upper)
	require.NoError(t, err)
	assert.True(t, same)
}

// TestSameHostFile_DifferentFilesAreDifferent covers the dangerous side
// of spec.md §4.7's rationale: two genuinely distinct files must compare
// unequal.
func TestSameHostFile_DifferentFilesAreDifferent(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.zip")
	b := filepath.Join(dir, "b.zip")
	require.NoError(t, os.WriteFile(a, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("b"), 0o644))

	same, err := SameHostFile(a, b)
	require.NoError(t, err)
	assert.False(t, same)
}

// TestSameHostFile_MissingPathIsNotFound covers spec.md §4.7: both paths
// must exist on the host; a missing file is reported as NotFound, not as
// a false "different" result.
func TestSameHostFile_MissingPathIsNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := SameHostFile(filepath.Join(dir, "missing.zip"), filepath.Join(dir, "missing.zip"))
	require.Error(t, err)
}
