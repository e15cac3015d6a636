package zipfmt

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadden/cp2/cp2fs"
)

type memReaderAt struct {
	data []byte
}

func (m *memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memReaderAt) Close() error { return nil }

func makeZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := stdzip.NewWriter(&buf)
	for name, contents := range files {
		fw, err := zw.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(contents))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func newTestArchive(t *testing.T, files map[string]string) *archive {
	t.Helper()
	data := makeZip(t, files)
	src := &memReaderAt{data: data}
	zr, err := stdzip.NewReader(src, int64(len(data)))
	require.NoError(t, err)
	return newArchive(zr, src, int64(len(data)))
}

func TestProbe_RecognizesZipMagic(t *testing.T) {
	data := makeZip(t, map[string]string{"A.TXT": "hello"})
	src := &memReaderAt{data: data}

	content, ok, err := probe(context.Background(), src, int64(len(data)))
	require.NoError(t, err)
	require.True(t, ok)
	_, isArchive := content.(cp2fs.Archive)
	assert.True(t, isArchive)
}

func TestProbe_RejectsNonZip(t *testing.T) {
	src := &memReaderAt{data: []byte("not a zip file")}
	_, ok, err := probe(context.Background(), src, 14)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchive_FindByPathAndOpen(t *testing.T) {
	a := newTestArchive(t, map[string]string{"A.TXT": "one", "B.TXT": "two"})

	info, err := a.FindByPath(context.Background(), "A.TXT")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.DataLength)

	rc, err := a.Open(context.Background(), "B.TXT", cp2fs.ForkData)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestArchive_FindByPathMissingIsNotFound(t *testing.T) {
	a := newTestArchive(t, map[string]string{"A.TXT": "one"})
	_, err := a.FindByPath(context.Background(), "MISSING.TXT")
	assert.ErrorIs(t, err, cp2fs.ErrNotFound)
}

func TestArchive_IsNotASimpleWrapper(t *testing.T) {
	a := newTestArchive(t, map[string]string{"A.TXT": "one"})
	simple, err := a.IsSimpleWrapper(context.Background())
	require.NoError(t, err)
	assert.False(t, simple)
}

// TestArchive_CommitRoundTripsEditedEntry covers the whole-archive-rewrite
// commit strategy: a staged AddPart replaces one entry's data, and the
// rewritten archive still reads back every other entry unmodified.
func TestArchive_CommitRoundTripsEditedEntry(t *testing.T) {
	a := newTestArchive(t, map[string]string{"A.TXT": "one", "B.TXT": "two"})
	ctx := context.Background()

	require.NoError(t, a.StartTransaction(ctx))
	require.NoError(t, a.AddPart(ctx, "A.TXT", cp2fs.ForkData, bytes.NewReader([]byte("ONE-EDITED")), cp2fs.CompressDefault))

	var out bytes.Buffer
	require.NoError(t, a.Commit(ctx, &out))

	zr, err := stdzip.NewReader(bytes.NewReader(out.Bytes()), int64(out.Len()))
	require.NoError(t, err)

	contents := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		contents[f.Name] = string(data)
	}
	assert.Equal(t, "ONE-EDITED", contents["A.TXT"])
	assert.Equal(t, "two", contents["B.TXT"])
}

// TestArchive_CancelDiscardsStagedChanges covers spec.md P5 at the
// per-archive level: cancelling a transaction must leave a subsequent
// read of the original entry unaffected.
func TestArchive_CancelDiscardsStagedChanges(t *testing.T) {
	a := newTestArchive(t, map[string]string{"A.TXT": "one"})
	ctx := context.Background()

	require.NoError(t, a.StartTransaction(ctx))
	require.NoError(t, a.AddPart(ctx, "A.TXT", cp2fs.ForkData, bytes.NewReader([]byte("edited")), cp2fs.CompressDefault))
	require.NoError(t, a.Cancel(ctx))

	info, err := a.FindByPath(ctx, "A.TXT")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.DataLength)
}

func TestArchive_DeleteRecordRequiresTransaction(t *testing.T) {
	a := newTestArchive(t, map[string]string{"A.TXT": "one"})
	err := a.DeleteRecord(context.Background(), "A.TXT")
	assert.Error(t, err)
}
