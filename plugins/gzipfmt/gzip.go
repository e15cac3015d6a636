// Package gzipfmt is the Archive plug-in for gzip-compressed single-member
// streams, grounded on backend/gzip/gzip.go's wrap-one-stream shape but
// using github.com/klauspost/compress/gzip (the corpus's faster drop-in
// replacement for compress/gzip) for decompression; the archive is
// read-only, so nothing is ever compressed.
package gzipfmt

import (
	"context"
	"fmt"
	"io"
	"time"

	kgzip "github.com/klauspost/compress/gzip"

	"github.com/fadden/cp2/cp2fs"
)

func init() {
	cp2fs.Register(cp2fs.Prober{
		Name:       "gzip",
		Extensions: []string{".gz", ".tgz"},
		Probe:      probe,
	})
}

func probe(ctx context.Context, data cp2fs.ReaderAtCloser, size int64) (cp2fs.Content, bool, error) {
	hdr := make([]byte, 2)
	if _, err := data.ReadAt(hdr, 0); err != nil {
		return nil, false, nil
	}
	if hdr[0] != 0x1f || hdr[1] != 0x8b {
		return nil, false, nil
	}
	return &archive{data: data, size: size}, true, nil
}

// archive is a "simple wrapper" per spec.md §4.3: it holds exactly one
// entry, the decompressed stream, and the Resolver skips straight through
// it without consuming a path component. It is read-only: gzip carries no
// directory structure to attach a new part to.
type archive struct {
	data cp2fs.ReaderAtCloser
	size int64
	name string
}

func (a *archive) Unwrap() cp2fs.Content { return nil }

func (a *archive) entryPath() string {
	if a.name != "" {
		return a.name
	}
	return "data"
}

func (a *archive) Entries(ctx context.Context) ([]cp2fs.EntryInfo, error) {
	info, err := a.stat()
	if err != nil {
		return nil, err
	}
	return []cp2fs.EntryInfo{info}, nil
}

func (a *archive) stat() (cp2fs.EntryInfo, error) {
	rc, err := a.openGzip()
	if err != nil {
		return cp2fs.EntryInfo{}, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, rc)
	if err != nil {
		return cp2fs.EntryInfo{}, err
	}
	var modTime time.Time
	if gz, ok := rc.(*kgzip.Reader); ok && !gz.ModTime.IsZero() {
		modTime = gz.ModTime
	}
	return cp2fs.EntryInfo{Path: a.entryPath(), DataLength: n, ModTime: modTime}, nil
}

func (a *archive) FindByPath(ctx context.Context, path string) (cp2fs.EntryInfo, error) {
	if path != a.entryPath() {
		return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
	}
	return a.stat()
}

func (a *archive) FindFirst(ctx context.Context, pred func(cp2fs.EntryInfo) bool) (cp2fs.EntryInfo, error) {
	info, err := a.stat()
	if err != nil {
		return cp2fs.EntryInfo{}, err
	}
	if pred(info) {
		return info, nil
	}
	return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
}

func (a *archive) Open(ctx context.Context, path string, fork cp2fs.ForkKind) (io.ReadCloser, error) {
	if fork == cp2fs.ForkResource {
		return nil, fmt.Errorf("gzipfmt: no resource fork")
	}
	if path != a.entryPath() {
		return nil, cp2fs.ErrNotFound
	}
	return a.openGzip()
}

func (a *archive) openGzip() (io.ReadCloser, error) {
	r := io.NewSectionReader(a.data, 0, a.size)
	gz, err := kgzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzipfmt: %w", err)
	}
	return gz, nil
}

func (a *archive) IsSimpleWrapper(ctx context.Context) (bool, error) { return true, nil }
func (a *archive) SingleEntryPath(ctx context.Context) (string, error) {
	return a.entryPath(), nil
}

func (a *archive) Writable() bool { return false }

func (a *archive) StartTransaction(ctx context.Context) error { return cp2fs.ErrNotWritable }
func (a *archive) Commit(ctx context.Context, w io.Writer) error {
	return cp2fs.ErrNotWritable
}
func (a *archive) Cancel(ctx context.Context) error { return nil }

func (a *archive) CreateRecord(ctx context.Context, path string, info cp2fs.EntryInfo) error {
	return cp2fs.ErrNotWritable
}
func (a *archive) DeleteRecord(ctx context.Context, path string) error { return cp2fs.ErrNotWritable }
func (a *archive) AddPart(ctx context.Context, path string, fork cp2fs.ForkKind, src io.Reader, hint cp2fs.CompressionHint) error {
	return cp2fs.ErrNotWritable
}
func (a *archive) DeletePart(ctx context.Context, path string, fork cp2fs.ForkKind) error {
	return cp2fs.ErrNotWritable
}
