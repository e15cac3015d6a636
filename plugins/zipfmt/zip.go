// Package zipfmt is the Archive plug-in for the ZIP format, wrapping the
// standard library's archive/zip the way backend/zip/zip.go wraps it for
// rclone's Fs interface: a thin adapter from one concrete format to the
// engine's cp2fs.Archive capability set, not a reimplementation of the
// format itself.
package zipfmt

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fadden/cp2/cp2fs"
)

func init() {
	cp2fs.Register(cp2fs.Prober{
		Name:       "zip",
		Extensions: []string{".zip"},
		Probe:      probe,
	})
}

func probe(ctx context.Context, data cp2fs.ReaderAtCloser, size int64) (cp2fs.Content, bool, error) {
	if size < 0 {
		return nil, false, nil
	}
	ra, ok := data.(io.ReaderAt)
	if !ok {
		return nil, false, nil
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, false, nil
	}
	return newArchive(zr, data, size), true, nil
}

// archive adapts *zip.Reader (read side, always available) and an
// in-memory staging map (write side, flushed by Commit) to cp2fs.Archive.
// Grounded on zip.go's in-memory directory cache plus backend/archive/
// base.Fs's StartTransaction/Commit/Cancel lifecycle, generalized from
// rclone's "whole zip is an Fs" model to one archive entry per
// cp2fs.EntryInfo.
type archive struct {
	mu      sync.Mutex
	zr      *zip.Reader
	src     cp2fs.ReaderAtCloser
	size    int64
	pending map[string]*pendingPart // staged AddPart data, keyed by path
	deleted map[string]bool
	created map[string]cp2fs.EntryInfo
	inTxn   bool
}

type pendingPart struct {
	info cp2fs.EntryInfo
	data []byte
}

func newArchive(zr *zip.Reader, src cp2fs.ReaderAtCloser, size int64) *archive {
	return &archive{zr: zr, src: src, size: size}
}

func (a *archive) Unwrap() cp2fs.Content { return nil }

func (a *archive) Entries(ctx context.Context) ([]cp2fs.EntryInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := make(map[string]bool)
	var out []cp2fs.EntryInfo
	for _, f := range a.zr.File {
		if a.deleted[f.Name] {
			continue
		}
		out = append(out, entryInfoFromZip(f))
		seen[f.Name] = true
	}
	for path, p := range a.pending {
		if !seen[path] {
			out = append(out, p.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (a *archive) FindByPath(ctx context.Context, path string) (cp2fs.EntryInfo, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleted[path] {
		return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
	}
	if p, ok := a.pending[path]; ok {
		return p.info, nil
	}
	for _, f := range a.zr.File {
		if f.Name == path {
			return entryInfoFromZip(f), nil
		}
	}
	return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
}

func (a *archive) FindFirst(ctx context.Context, pred func(cp2fs.EntryInfo) bool) (cp2fs.EntryInfo, error) {
	entries, err := a.Entries(ctx)
	if err != nil {
		return cp2fs.EntryInfo{}, err
	}
	for _, e := range entries {
		if pred(e) {
			return e, nil
		}
	}
	return cp2fs.EntryInfo{}, cp2fs.ErrNotFound
}

func (a *archive) Open(ctx context.Context, path string, fork cp2fs.ForkKind) (io.ReadCloser, error) {
	if fork == cp2fs.ForkResource {
		return nil, fmt.Errorf("zipfmt: no resource fork")
	}
	a.mu.Lock()
	if p, ok := a.pending[path]; ok {
		a.mu.Unlock()
		return io.NopCloser(bytes.NewReader(p.data)), nil
	}
	if a.deleted[path] {
		a.mu.Unlock()
		return nil, cp2fs.ErrNotFound
	}
	a.mu.Unlock()
	for _, f := range a.zr.File {
		if f.Name == path {
			return f.Open()
		}
	}
	return nil, cp2fs.ErrNotFound
}

// IsSimpleWrapper is always false for zip: a zip archive is addressed by
// entry name, never transparently descended (spec.md §4.3 reserves
// simple-wrapper status for single-member formats like gzip).
func (a *archive) IsSimpleWrapper(ctx context.Context) (bool, error) { return false, nil }
func (a *archive) SingleEntryPath(ctx context.Context) (string, error) {
	return "", fmt.Errorf("zipfmt: not a simple wrapper")
}

func (a *archive) Writable() bool { return true }

// StartTransaction is idempotent: a caller that already opened a
// transaction to stage its own CreateRecord/AddPart/DeleteRecord calls
// may see this called again by the TransactionCoordinator, which starts
// one on every dirty archive on the way to Commit regardless of whether
// the caller already did (see container/transaction.go's saveNode) — a
// second call here must not discard already-staged state.
func (a *archive) StartTransaction(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.inTxn {
		return nil
	}
	a.pending = make(map[string]*pendingPart)
	a.deleted = make(map[string]bool)
	a.created = make(map[string]cp2fs.EntryInfo)
	a.inTxn = true
	return nil
}

// Commit writes a brand-new zip stream to w containing every surviving
// entry (unmodified entries re-read from the original reader, new/changed
// ones from the staged pending map), matching zip.go's own full-rewrite
// commit strategy (zip has no efficient in-place update).
func (a *archive) Commit(ctx context.Context, w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	zw := zip.NewWriter(w)
	written := make(map[string]bool)
	for _, f := range a.zr.File {
		if a.deleted[f.Name] {
			continue
		}
		if p, ok := a.pending[f.Name]; ok {
			if err := writeZipEntry(zw, p.info, p.data); err != nil {
				return err
			}
			written[f.Name] = true
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		fw, err := zw.CreateHeader(&f.FileHeader)
		if err != nil {
			rc.Close()
			return err
		}
		if _, err := io.Copy(fw, rc); err != nil {
			rc.Close()
			return err
		}
		rc.Close()
		written[f.Name] = true
	}
	for path, p := range a.pending {
		if written[path] {
			continue
		}
		if err := writeZipEntry(zw, p.info, p.data); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	a.inTxn = false
	return nil
}

func (a *archive) Cancel(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = nil
	a.deleted = nil
	a.created = nil
	a.inTxn = false
	return nil
}

func (a *archive) CreateRecord(ctx context.Context, path string, info cp2fs.EntryInfo) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inTxn {
		return fmt.Errorf("zipfmt: no transaction in progress")
	}
	a.created[path] = info
	a.pending[path] = &pendingPart{info: info}
	return nil
}

func (a *archive) DeleteRecord(ctx context.Context, path string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inTxn {
		return fmt.Errorf("zipfmt: no transaction in progress")
	}
	a.deleted[path] = true
	delete(a.pending, path)
	return nil
}

func (a *archive) AddPart(ctx context.Context, path string, fork cp2fs.ForkKind, src io.Reader, hint cp2fs.CompressionHint) error {
	if fork == cp2fs.ForkResource {
		return fmt.Errorf("zipfmt: no resource fork")
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.inTxn {
		return fmt.Errorf("zipfmt: no transaction in progress")
	}
	p, ok := a.pending[path]
	if !ok {
		p = &pendingPart{info: cp2fs.EntryInfo{Path: path, ModTime: time.Now()}}
		a.pending[path] = p
	}
	p.data = data
	p.info.DataLength = int64(len(data))
	return nil
}

func (a *archive) DeletePart(ctx context.Context, path string, fork cp2fs.ForkKind) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p, ok := a.pending[path]; ok {
		p.data = nil
		p.info.DataLength = 0
	}
	return nil
}

func entryInfoFromZip(f *zip.File) cp2fs.EntryInfo {
	return cp2fs.EntryInfo{
		Path:           f.Name,
		DataLength:     int64(f.UncompressedSize64),
		CompressedSize: int64(f.CompressedSize64),
		CompressionTag: compressionName(f.Method),
		ModTime:        f.Modified,
		Comment:        f.Comment,
		IsDir:          strings.HasSuffix(f.Name, "/"),
	}
}

func compressionName(method uint16) string {
	switch method {
	case zip.Store:
		return "store"
	case zip.Deflate:
		return "deflate"
	default:
		return fmt.Sprintf("method-%d", method)
	}
}

func writeZipEntry(zw *zip.Writer, info cp2fs.EntryInfo, data []byte) error {
	hdr := &zip.FileHeader{Name: info.Path, Method: zip.Deflate}
	hdr.Modified = info.ModTime
	if hdr.Modified.IsZero() {
		hdr.Modified = time.Now()
	}
	fw, err := zw.CreateHeader(hdr)
	if err != nil {
		return err
	}
	_, err = fw.Write(data)
	return err
}
