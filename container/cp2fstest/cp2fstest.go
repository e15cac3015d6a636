// Package cp2fstest provides minimal in-memory fakes of the cp2fs
// capability interfaces (Archive, DiskImage, Filesystem) for exercising
// the Resolver and TransactionCoordinator without a real archive format
// plug-in. Grounded on backend/archive/archive_test.go's practice of
// hand-rolling a trivial backend.Fs to drive the resolution logic
// under test, rather than relying on a real format's parsing quirks.
package cp2fstest

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/fadden/cp2/cp2fs"
)

// Entry is one archive-local entry: a path plus its current bytes.
type Entry struct {
	Path string
	Data []byte
	Dir  bool
}

// Archive is a trivial in-memory cp2fs.Archive. Open/AddPart/DeletePart
// operate directly on Entries; StartTransaction/Commit/Cancel only
// track whether a transaction is in progress, since there is no
// on-disk representation to rewrite.
type Archive struct {
	Entries_       []Entry
	Wrapper        bool
	SingleEntry    string
	WritableFlag   bool
	InTxn          bool
	CommitCount    int
	CancelCount    int
}

var _ cp2fs.Archive = (*Archive)(nil)

func (a *Archive) Unwrap() cp2fs.Content { return nil }

func (a *Archive) Entries(ctx context.Context) ([]cp2fs.EntryInfo, error) {
	out := make([]cp2fs.EntryInfo, 0, len(a.Entries_))
	for _, e := range a.Entries_ {
		out = append(out, cp2fs.EntryInfo{Path: e.Path, DataLength: int64(len(e.Data)), IsDir: e.Dir, ModTime: time.Time{}})
	}
	return out, nil
}

func (a *Archive) FindByPath(ctx context.Context, path string) (cp2fs.EntryInfo, error) {
	for _, e := range a.Entries_ {
		if e.Path == path {
			return cp2fs.EntryInfo{Path: e.Path, DataLength: int64(len(e.Data)), IsDir: e.Dir}, nil
		}
	}
	return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
}

func (a *Archive) FindFirst(ctx context.Context, pred func(cp2fs.EntryInfo) bool) (cp2fs.EntryInfo, error) {
	for _, e := range a.Entries_ {
		info := cp2fs.EntryInfo{Path: e.Path, DataLength: int64(len(e.Data)), IsDir: e.Dir}
		if pred(info) {
			return info, nil
		}
	}
	return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
}

func (a *Archive) Open(ctx context.Context, path string, fork cp2fs.ForkKind) (io.ReadCloser, error) {
	for _, e := range a.Entries_ {
		if e.Path == path {
			return io.NopCloser(bytes.NewReader(e.Data)), nil
		}
	}
	return nil, cp2fs.ErrNotFound
}

func (a *Archive) IsSimpleWrapper(ctx context.Context) (bool, error) { return a.Wrapper, nil }
func (a *Archive) SingleEntryPath(ctx context.Context) (string, error) {
	return a.SingleEntry, nil
}
func (a *Archive) Writable() bool { return a.WritableFlag }

func (a *Archive) StartTransaction(ctx context.Context) error {
	a.InTxn = true
	return nil
}

func (a *Archive) Commit(ctx context.Context, to io.Writer) error {
	a.InTxn = false
	a.CommitCount++
	_, err := to.Write([]byte("fake-archive"))
	return err
}

func (a *Archive) Cancel(ctx context.Context) error {
	a.InTxn = false
	a.CancelCount++
	return nil
}

func (a *Archive) CreateRecord(ctx context.Context, path string, info cp2fs.EntryInfo) error {
	a.Entries_ = append(a.Entries_, Entry{Path: path, Dir: info.IsDir})
	return nil
}

func (a *Archive) DeleteRecord(ctx context.Context, path string) error {
	for i, e := range a.Entries_ {
		if e.Path == path {
			a.Entries_ = append(a.Entries_[:i], a.Entries_[i+1:]...)
			return nil
		}
	}
	return cp2fs.ErrNotFound
}

func (a *Archive) AddPart(ctx context.Context, path string, fork cp2fs.ForkKind, src io.Reader, hint cp2fs.CompressionHint) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	for i, e := range a.Entries_ {
		if e.Path == path {
			a.Entries_[i].Data = data
			return nil
		}
	}
	a.Entries_ = append(a.Entries_, Entry{Path: path, Data: data})
	return nil
}

func (a *Archive) DeletePart(ctx context.Context, path string, fork cp2fs.ForkKind) error {
	for i, e := range a.Entries_ {
		if e.Path == path {
			a.Entries_[i].Data = nil
			return nil
		}
	}
	return cp2fs.ErrNotFound
}

// Dir is one in-memory directory entry for Filesystem.
type Dir struct {
	name string
	isDir bool
}

func (d Dir) Name() string { return d.name }
func (d Dir) IsDir() bool  { return d.isDir }

// Filesystem is a trivial single-level in-memory cp2fs.Filesystem.
type Filesystem struct {
	FilesByName map[string][]byte
	DirsByName  map[string]bool
	FormatName  string
}

var _ cp2fs.Filesystem = (*Filesystem)(nil)

func (f *Filesystem) Unwrap() cp2fs.Content { return nil }
func (f *Filesystem) VolumeDir() cp2fs.DirEntryRef { return Dir{name: "", isDir: true} }

func (f *Filesystem) ReadDir(ctx context.Context, dir cp2fs.DirEntryRef) ([]cp2fs.DirEntryRef, error) {
	var out []cp2fs.DirEntryRef
	for name := range f.FilesByName {
		out = append(out, Dir{name: name})
	}
	for name := range f.DirsByName {
		out = append(out, Dir{name: name, isDir: true})
	}
	return out, nil
}

func (f *Filesystem) FindByName(ctx context.Context, dir cp2fs.DirEntryRef, name string) (cp2fs.DirEntryRef, error) {
	if f.DirsByName[name] {
		return Dir{name: name, isDir: true}, nil
	}
	if _, ok := f.FilesByName[name]; ok {
		return Dir{name: name}, nil
	}
	return nil, cp2fs.ErrNotFound
}

func (f *Filesystem) Open(ctx context.Context, entry cp2fs.DirEntryRef, fork cp2fs.ForkKind) (io.ReadCloser, error) {
	data, ok := f.FilesByName[entry.Name()]
	if !ok {
		return nil, cp2fs.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *Filesystem) Format() string { return f.FormatName }
func (f *Filesystem) Raw() cp2fs.ChunkAccess { return nil }
func (f *Filesystem) EmbeddedVolumes(ctx context.Context) ([]cp2fs.Filesystem, error) { return nil, nil }
func (f *Filesystem) Dubious() bool      { return false }
func (f *Filesystem) ReadOnly() bool     { return false }
func (f *Filesystem) FreeSpace() int64   { return 0 }
func (f *Filesystem) FormattedLength() int64 { return 0 }

func (f *Filesystem) CreateFile(ctx context.Context, dir cp2fs.DirEntryRef, name string, isDir bool) (cp2fs.DirEntryRef, error) {
	if isDir {
		f.DirsByName[name] = true
		return Dir{name: name, isDir: true}, nil
	}
	f.FilesByName[name] = nil
	return Dir{name: name}, nil
}

func (f *Filesystem) SaveChanges(ctx context.Context, entry cp2fs.DirEntryRef) error { return nil }

// DiskImage is a trivial in-memory cp2fs.DiskImage whose body is either a
// fixed Filesystem or, when Parts is non-empty, a MultiPart (the two are
// mutually exclusive, matching a real DiskImage's Contents() which is
// never both at once).
type DiskImage struct {
	Body  cp2fs.Filesystem
	Parts []cp2fs.Partition
}

var _ cp2fs.DiskImage = (*DiskImage)(nil)

func (d *DiskImage) Unwrap() cp2fs.Content         { return nil }
func (d *DiskImage) Chunks() cp2fs.ChunkAccess      { return nil }
func (d *DiskImage) Analyze(ctx context.Context) error { return nil }
func (d *DiskImage) Contents() any {
	if len(d.Parts) > 0 {
		return &MultiPart{Parts: d.Parts}
	}
	return d.Body
}
func (d *DiskImage) Flush(ctx context.Context) error { return nil }
func (d *DiskImage) Notes() []string                { return nil }
func (d *DiskImage) Dubious() bool                  { return false }
func (d *DiskImage) Damaged() bool                  { return false }
func (d *DiskImage) Nibble() cp2fs.NibbleAccess      { return nil }

// MultiPart is a trivial in-memory cp2fs.MultiPart over a fixed partition
// list, for exercising the Resolver's partition-index/name selection
// (spec.md §4.4) without a real APM/MBR/GPT parser.
type MultiPart struct {
	Parts []cp2fs.Partition
}

var _ cp2fs.MultiPart = (*MultiPart)(nil)

func (m *MultiPart) Unwrap() cp2fs.Content    { return nil }
func (m *MultiPart) Partitions() []cp2fs.Partition { return m.Parts }
func (m *MultiPart) Chunks() cp2fs.ChunkAccess { return nil }

// Partition is a trivial in-memory cp2fs.Partition whose Analyze returns
// a fixed Filesystem (or an error, for testing analysis failures).
type Partition struct {
	PartName  string
	PartType  string
	PartIndex int
	Fs        cp2fs.Filesystem
	AnalyzeErr error
}

var _ cp2fs.Partition = (*Partition)(nil)

func (p *Partition) Unwrap() cp2fs.Content     { return nil }
func (p *Partition) Name() string              { return p.PartName }
func (p *Partition) Type() string              { return p.PartType }
func (p *Partition) Index() int                { return p.PartIndex }
func (p *Partition) Chunks() cp2fs.ChunkAccess { return nil }
func (p *Partition) Analyze(ctx context.Context) (cp2fs.Filesystem, error) {
	if p.AnalyzeErr != nil {
		return nil, p.AnalyzeErr
	}
	return p.Fs, nil
}
