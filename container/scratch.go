package container

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
)

// memStoreThreshold is the size below which a TempStore is backed by
// memory rather than a delete-on-close temp file, matching the
// size-based split spec.md §4.5 allows ("small archive entries" vs.
// "large entries, or when memory pressure warrants").
const memStoreThreshold = 4 << 20 // 4 MiB

// TempStore is the scratch byte-storage abstraction spec.md §4.5
// requires: createable, writable while being filled, seekable for
// reads, discardable on error, guaranteed-freed on drop. Its ReadAt/
// WriteAt shape mirrors github.com/diskfs/go-diskfs/backend.Storage,
// the interface backend/archive/squashfs/cache.go wraps a
// vfs.Handle as, generalized here to a concrete two-implementation
// scratch store instead of a read-only handle pool.
type TempStore interface {
	io.ReadWriteSeeker
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	// Size returns the current extent of written data.
	Size() int64
	// Truncate shrinks or grows the store's extent to size, so a commit
	// that produces fewer bytes than the store previously held doesn't
	// leave stale data past the new end visible to a later whole-stream
	// read (spec.md §4.6's commit-to-scratch step).
	Truncate(size int64) error
	// Discard releases the store's resources without requiring Close to
	// be called; safe to call more than once.
	Discard()
	io.Closer
}

// NewTempStore returns a TempStore sized for hint bytes (use -1 if
// unknown, which conservatively chooses the file-backed implementation).
func NewTempStore(hint int64) (TempStore, error) {
	if hint >= 0 && hint <= memStoreThreshold {
		return newMemStore(), nil
	}
	return newFileStore()
}

type memStore struct {
	buf    *bytes.Reader
	wbuf   []byte
	pos    int64
	closed bool
}

func newMemStore() *memStore {
	return &memStore{wbuf: make([]byte, 0, 64*1024)}
}

func (m *memStore) Write(p []byte) (int, error) {
	if m.closed {
		return 0, errors.New("container: write to closed TempStore")
	}
	n, err := m.WriteAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *memStore) WriteAt(p []byte, off int64) (int, error) {
	if m.closed {
		return 0, errors.New("container: write to closed TempStore")
	}
	end := off + int64(len(p))
	if end > int64(len(m.wbuf)) {
		grown := make([]byte, end)
		copy(grown, m.wbuf)
		m.wbuf = grown
	}
	copy(m.wbuf[off:end], p)
	return len(p), nil
}

func (m *memStore) Read(p []byte) (int, error) {
	n, err := m.ReadAt(p, m.pos)
	m.pos += int64(n)
	return n, err
}

func (m *memStore) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.wbuf)) {
		return 0, io.EOF
	}
	n := copy(p, m.wbuf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memStore) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.wbuf)) + offset
	default:
		return 0, fmt.Errorf("container: invalid whence %d", whence)
	}
	return m.pos, nil
}

func (m *memStore) Size() int64 { return int64(len(m.wbuf)) }

func (m *memStore) Truncate(size int64) error {
	if m.closed {
		return errors.New("container: truncate closed TempStore")
	}
	if size <= int64(len(m.wbuf)) {
		m.wbuf = m.wbuf[:size]
		return nil
	}
	grown := make([]byte, size)
	copy(grown, m.wbuf)
	m.wbuf = grown
	return nil
}

func (m *memStore) Discard() {
	m.closed = true
	m.wbuf = nil
}

func (m *memStore) Close() error {
	m.Discard()
	return nil
}

// fileStore is a delete-on-close temp file: the file is unlinked as
// soon as it is created (on platforms that support it) so that even a
// process crash cannot leak it, matching the corpus's local backend
// idiom of opening with os.CreateTemp and cleaning up defensively.
type fileStore struct {
	f        *os.File
	unlinked bool
}

func newFileStore() (*fileStore, error) {
	f, err := os.CreateTemp("", "cp2-scratch-*")
	if err != nil {
		return nil, fmt.Errorf("container: create scratch file: %w", err)
	}
	fs := &fileStore{f: f}
	// Best-effort unlink-on-create; platforms without this guarantee
	// (Windows) fall back to removal in Discard/Close.
	if err := os.Remove(f.Name()); err == nil {
		fs.unlinked = true
	}
	return fs, nil
}

func (fs *fileStore) Write(p []byte) (int, error)             { return fs.f.Write(p) }
func (fs *fileStore) WriteAt(p []byte, off int64) (int, error) { return fs.f.WriteAt(p, off) }
func (fs *fileStore) Read(p []byte) (int, error)               { return fs.f.Read(p) }
func (fs *fileStore) ReadAt(p []byte, off int64) (int, error)  { return fs.f.ReadAt(p, off) }
func (fs *fileStore) Seek(offset int64, whence int) (int64, error) {
	return fs.f.Seek(offset, whence)
}

func (fs *fileStore) Size() int64 {
	info, err := fs.f.Stat()
	if err != nil {
		return 0
	}
	return info.Size()
}

func (fs *fileStore) Truncate(size int64) error {
	return fs.f.Truncate(size)
}

func (fs *fileStore) Discard() {
	name := fs.f.Name()
	_ = fs.f.Close()
	if !fs.unlinked {
		_ = os.Remove(name)
	}
}

func (fs *fileStore) Close() error {
	fs.Discard()
	return nil
}
