package cp2fs

import (
	"context"
	"io"
	"time"
)

// ForkKind distinguishes the data fork from the resource fork carried by
// some vintage file formats (HFS, ProDOS extended files, AppleDouble).
type ForkKind int

// Fork kinds.
const (
	ForkData ForkKind = iota
	ForkResource
)

// CompressionHint tells an Archive which compression method to prefer
// when a part is added; plug-ins may ignore hints they don't support.
type CompressionHint int

// Compression hints.
const (
	CompressDefault CompressionHint = iota
	CompressNone
	CompressBest
)

// EntryInfo is the read-only attribute set published for one archive
// entry, deliberately flat (not an interface) because every format
// plug-in fills in the same fields, leaving zero where not applicable.
type EntryInfo struct {
	Path             string
	DataLength       int64
	ResourceLength   int64
	CompressedSize   int64
	CompressionTag   string
	FileType         string // opaque vintage file-type tag (ProDOS/HFS/DOS)
	CreateTime       time.Time
	ModTime          time.Time
	AccessFlags      uint32
	Comment          string
	IsDir            bool
}

// Content is the common capability every node payload (Archive,
// DiskImage, Partition, MultiPart) implements, mirroring fs.Fs's
// UnWrap/WrapFs/SetWrapper trio in the corpus.
type Content interface {
	// Unwrap returns the Content this one is directly layered over, or
	// nil at the outermost layer inside a single ContainerNode's content
	// (cross-node nesting is tracked by the container package, not here).
	Unwrap() Content
}

// Archive is the capability set published by a file-archive format
// plug-in (ZIP, NuFX, Binary II, gzip, AppleSingle, MacBinary, ...).
type Archive interface {
	Content

	// Entries lists the archive's entries in archive order.
	Entries(ctx context.Context) ([]EntryInfo, error)
	// FindByPath returns the entry at path using the archive's
	// internal path separator, or ErrNotFound.
	FindByPath(ctx context.Context, path string) (EntryInfo, error)
	// FindFirst returns the first entry satisfying pred, or ErrNotFound.
	FindFirst(ctx context.Context, pred func(EntryInfo) bool) (EntryInfo, error)

	// Open opens the given fork of path for reading.
	Open(ctx context.Context, path string, fork ForkKind) (io.ReadCloser, error)

	// IsSimpleWrapper reports whether this archive holds exactly one
	// entry that is itself a disk image or raw blob (spec.md's "simple
	// wrapper": gzip, single-disk-entry NuFX).
	IsSimpleWrapper(ctx context.Context) (bool, error)
	// SingleEntryPath returns the path of that sole entry; only valid
	// when IsSimpleWrapper is true.
	SingleEntryPath(ctx context.Context) (string, error)

	// Writable reports whether the archive accepts mutation.
	Writable() bool

	// Transaction lifecycle, see TransactionCoordinator.
	StartTransaction(ctx context.Context) error
	Commit(ctx context.Context, to io.Writer) error
	Cancel(ctx context.Context) error

	CreateRecord(ctx context.Context, path string, info EntryInfo) error
	DeleteRecord(ctx context.Context, path string) error
	AddPart(ctx context.Context, path string, fork ForkKind, src io.Reader, hint CompressionHint) error
	DeletePart(ctx context.Context, path string, fork ForkKind) error
}

// DiskImage is the capability set published by a disk-image container
// (unadorned sector/block image, WOZ, 2IMG, DiskCopy, Trackstar, ...).
type DiskImage interface {
	Content

	Chunks() ChunkAccess
	// Analyze classifies the disk body as a Filesystem, MultiPart, or
	// neither, populating Contents()'s return value.
	Analyze(ctx context.Context) error
	Contents() any // *Filesystem value, MultiPart value, or nil
	Flush(ctx context.Context) error

	Notes() []string
	Dubious() bool
	Damaged() bool

	// Nibble returns a nibble-level accessor, or nil if unsupported.
	Nibble() NibbleAccess
}

// NibbleAccess is the optional nibble-level capability some DiskImage
// plug-ins (WOZ, Trackstar) expose; the engine never requires it.
type NibbleAccess interface {
	TrackBits(track int) ([]byte, error)
}

// Partition is one entry of a MultiPart layout.
type Partition interface {
	Content

	Name() string // APM-style partition name, "" if not applicable
	Type() string // opaque partition-type tag
	Index() int   // 1-based

	Chunks() ChunkAccess
	Analyze(ctx context.Context) (Filesystem, error)
}

// MultiPart is the capability set published when a DiskImage's body is a
// partition map (APM, MBR, GPT, ...).
type MultiPart interface {
	Content

	Partitions() []Partition
	Chunks() ChunkAccess
}

// DirEntryRef is an opaque reference to one entry of a Filesystem
// directory, returned by directory iteration and consumed by Open/
// directory-descent without re-resolving by name.
type DirEntryRef interface {
	Name() string
	IsDir() bool
}

// Filesystem is the capability set published by a disk/partition body
// that has been recognized as a filesystem (DOS 3.2/3.3, ProDOS, HFS,
// Pascal, CP/M, or the FAT/squashfs bodies github.com/diskfs/go-diskfs
// understands).
type Filesystem interface {
	Content

	VolumeDir() DirEntryRef
	ReadDir(ctx context.Context, dir DirEntryRef) ([]DirEntryRef, error)
	FindByName(ctx context.Context, dir DirEntryRef, name string) (DirEntryRef, error)
	Open(ctx context.Context, entry DirEntryRef, fork ForkKind) (io.ReadCloser, error)

	Format() string
	Raw() ChunkAccess
	EmbeddedVolumes(ctx context.Context) ([]Filesystem, error)

	Dubious() bool
	ReadOnly() bool
	FreeSpace() int64
	FormattedLength() int64

	CreateFile(ctx context.Context, dir DirEntryRef, name string, isDir bool) (DirEntryRef, error)
	SaveChanges(ctx context.Context, entry DirEntryRef) error
}

// ChunkAccess is the block/sector-addressable view published by a
// DiskImage or Partition, gated by AccessGate once a Filesystem claims
// it.
type ChunkAccess interface {
	ReadBlock(block int, p []byte) error
	WriteBlock(block int, p []byte) error
	ReadSector(track, sector int, p []byte) error
	WriteSector(track, sector int, p []byte) error

	FormattedLength() int64
	NumTracks() int
	SectorsPerTrack() int
	HasBlocks() bool
	HasSectors() bool
}
