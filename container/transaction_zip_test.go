package container

import (
	stdzip "archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadden/cp2/identify"

	_ "github.com/fadden/cp2/plugins/zipfmt"
)

type zipTestStream struct {
	data []byte
}

func (s *zipTestStream) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *zipTestStream) WriteAt(p []byte, off int64) (int, error) {
	end := off + int64(len(p))
	if end > int64(len(s.data)) {
		grown := make([]byte, end)
		copy(grown, s.data)
		s.data = grown
	}
	copy(s.data[off:end], p)
	return len(p), nil
}

func (s *zipTestStream) Close() error { return nil }

func (s *zipTestStream) Size() int64 { return int64(len(s.data)) }

func makeTestZip(t *testing.T, files map[string]string) []byte {
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

// TestSaveUpdates_PropagatesChildBytesThroughRealArchiveTransaction covers
// the gap a fake cp2fs.Archive can't: a real format plug-in's AddPart
// requires an open transaction (spec.md §4.6's "commit the transaction to
// a fresh scratch stream"), but nobody ever calls StartTransaction on a
// node that is dirty only because a descendant changed — the caller only
// ever touched the deep leaf, never this archive directly. SaveUpdates
// must open that transaction itself before it can stage the propagated
// bytes with AddPart.
func TestSaveUpdates_PropagatesChildBytesThroughRealArchiveTransaction(t *testing.T) {
	raw := makeTestZip(t, map[string]string{"UNCHANGED.PO": "original bytes"})
	stream := &zipTestStream{data: raw}

	result, err := identify.Identify(context.Background(), stream, int64(len(raw)), "outer.zip")
	require.NoError(t, err)
	require.Equal(t, identify.ResultArchive, result.Kind)

	host := newNode(KindHostFile, nil, EntryID{}, &fakeHostStream{}, nil)
	top := newNode(KindArchive, host, EntryID{}, stream, result.Archive)
	host.setChild(EntryID{}, top)

	childKey := EntryID{Path: "INNER.PO"}
	child := newNode(KindDiskImage, top, childKey, &zipTestStream{data: []byte("updated disk bytes")}, nil)
	top.setChild(childKey, child)
	child.markDirty()

	require.NoError(t, SaveUpdates(context.Background(), host))

	entries, err := result.Archive.Entries(context.Background())
	require.NoError(t, err)
	var sawUnchanged, sawInner bool
	for _, e := range entries {
		switch e.Path {
		case "UNCHANGED.PO":
			sawUnchanged = true
		case "INNER.PO":
			sawInner = true
			assert.EqualValues(t, len("updated disk bytes"), e.DataLength)
		}
	}
	assert.True(t, sawUnchanged, "commit must preserve entries the save never touched")
	assert.True(t, sawInner, "commit must stage the propagated child bytes as a new entry")
	assert.False(t, top.Dirty())
}

// TestSaveUpdates_LeavesUntouchedSiblingEntryUnstaged covers the other
// half of spec.md's "mark the parent's corresponding entry as bytes
// replaced": a child Node that was merely walked into, never mutated,
// must not be re-staged via AddPart on save. zipfmt's AddPart always
// writes a fresh pendingPart with Method forced to Deflate and ModTime
// reset to time.Now(), so re-staging an untouched STORE-compressed entry
// would silently change both its compression method and timestamp —
// this test exercises a STORE-method entry specifically so any
// regression to Deflate would be caught.
func TestSaveUpdates_LeavesUntouchedSiblingEntryUnstaged(t *testing.T) {
	var buf bytes.Buffer
	zw := stdzip.NewWriter(&buf)
	fw, err := zw.CreateHeader(&stdzip.FileHeader{Name: "UNTOUCHED.PO", Method: stdzip.Store})
	require.NoError(t, err)
	_, err = fw.Write([]byte("original stored bytes"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	raw := buf.Bytes()
	stream := &zipTestStream{data: raw}

	result, err := identify.Identify(context.Background(), stream, int64(len(raw)), "outer.zip")
	require.NoError(t, err)
	require.Equal(t, identify.ResultArchive, result.Kind)

	host := newNode(KindHostFile, nil, EntryID{}, &fakeHostStream{}, nil)
	top := newNode(KindArchive, host, EntryID{}, stream, result.Archive)
	host.setChild(EntryID{}, top)

	// A sibling child Node exists (the user walked into it earlier) but
	// was never mutated, so its dirty bit was never set.
	siblingKey := EntryID{Path: "UNTOUCHED.PO"}
	sibling := newNode(KindDiskImage, top, siblingKey, &zipTestStream{data: []byte("irrelevant")}, nil)
	top.setChild(siblingKey, sibling)

	// Mark only the archive itself dirty, as CreateRecord/DeleteRecord
	// issued directly against the archive would, with no dirty children.
	top.markDirty()

	require.NoError(t, SaveUpdates(context.Background(), host))

	entries, err := result.Archive.Entries(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "UNTOUCHED.PO", entries[0].Path)
	assert.Equal(t, "store", entries[0].CompressionTag, "untouched entry must keep its original compression method")

	// Entries() answers from the reader zipfmt was opened with, so the
	// method actually written by Commit is checked in the committed bytes.
	committed, err := stdzip.NewReader(bytes.NewReader(stream.data), int64(len(stream.data)))
	require.NoError(t, err)
	require.Len(t, committed.File, 1)
	assert.Equal(t, stdzip.Store, committed.File[0].Method, "commit must re-copy the untouched entry with its original method")
}
