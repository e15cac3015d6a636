package diskfmt

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	dfsquashfs "github.com/diskfs/go-diskfs/filesystem/squashfs"

	"github.com/fadden/cp2/container"
	"github.com/fadden/cp2/cp2fs"
)

// MBR on-disk layout, per the standard PC boot-sector partition table: a
// 512-byte boot sector ending in the 0x55AA signature, with four 16-byte
// partition entries starting at offset 0x1BE (446). This is a fixed,
// decades-stable binary layout with no ecosystem parser in the corpus
// (github.com/diskfs/go-diskfs's own partition/mbr package is a separate,
// disk-creation-oriented API the corpus never exercises reading an
// arbitrary stream with); DESIGN.md records the same stdlib-over-library
// call here that chunkAccess's sector arithmetic already makes.
const (
	mbrSectorSize   = 512
	mbrTableOffset  = 446
	mbrEntrySize    = 16
	mbrSignatureOff = 510
)

var errNoMBR = errors.New("diskfmt: no MBR partition table")

// readMBR recognizes an MBR partition table at the start of data and
// returns a cp2fs.MultiPart over its non-empty entries, or errNoMBR if
// the boot-sector signature is absent.
func readMBR(data cp2fs.ReaderAtCloser, size int64) (cp2fs.MultiPart, error) {
	if size < mbrSectorSize {
		return nil, errNoMBR
	}
	sector := make([]byte, mbrSectorSize)
	if _, err := data.ReadAt(sector, 0); err != nil {
		return nil, fmt.Errorf("diskfmt: read boot sector: %w", err)
	}
	if sector[mbrSignatureOff] != 0x55 || sector[mbrSignatureOff+1] != 0xAA {
		return nil, errNoMBR
	}

	var parts []cp2fs.Partition
	for i := 0; i < 4; i++ {
		entry := sector[mbrTableOffset+i*mbrEntrySize : mbrTableOffset+(i+1)*mbrEntrySize]
		partType := entry[4]
		numSectors := binary.LittleEndian.Uint32(entry[12:16])
		if partType == 0 || numSectors == 0 {
			continue
		}
		lbaStart := binary.LittleEndian.Uint32(entry[8:12])
		offset := int64(lbaStart) * mbrSectorSize
		length := int64(numSectors) * mbrSectorSize
		if offset+length > size {
			continue
		}
		parts = append(parts, &mbrPartition{
			index:    len(parts) + 1,
			partType: fmt.Sprintf("0x%02X", partType),
			offset:   offset,
			length:   length,
			data:     data,
		})
	}
	if len(parts) == 0 {
		return nil, errNoMBR
	}
	return &mbrMultiPart{parts: parts}, nil
}

// mbrMultiPart adapts a parsed MBR partition table to cp2fs.MultiPart.
type mbrMultiPart struct {
	parts []cp2fs.Partition
}

func (m *mbrMultiPart) Unwrap() cp2fs.Content         { return nil }
func (m *mbrMultiPart) Partitions() []cp2fs.Partition { return m.parts }
func (m *mbrMultiPart) Chunks() cp2fs.ChunkAccess      { return nil }

// mbrPartition adapts one MBR table entry to cp2fs.Partition. MBR
// entries carry no name field (unlike APM); selectPartition's
// numeric-index-first ordering in container/resolve.go is the only way
// to address one.
type mbrPartition struct {
	index    int
	partType string
	offset   int64
	length   int64
	data     cp2fs.ReaderAtCloser

	gateOnce sync.Once
	gate     *container.AccessGate
}

func (p *mbrPartition) Unwrap() cp2fs.Content { return nil }
func (p *mbrPartition) Name() string          { return "" }
func (p *mbrPartition) Type() string          { return p.partType }
func (p *mbrPartition) Index() int            { return p.index }

// chunkGate lazily wraps this partition's own windowed chunk accessor
// in an AccessGate, shared between Chunks() and Analyze() so a
// Filesystem recognized by Analyze gates the same accessor a caller may
// already be holding from Chunks(), per spec.md §4.8.
func (p *mbrPartition) chunkGate() *container.AccessGate {
	p.gateOnce.Do(func() {
		windowed := &offsetReaderAt{base: p.data, offset: p.offset}
		p.gate = container.NewAccessGate(&chunkAccess{data: windowed, size: p.length})
	})
	return p.gate
}

func (p *mbrPartition) Chunks() cp2fs.ChunkAccess {
	return p.chunkGate()
}

// Analyze tries to mount a squashfs filesystem at the partition's own
// offset, the same recognition Analyze (diskfmt.go) runs against an
// undivided disk image.
func (p *mbrPartition) Analyze(ctx context.Context) (cp2fs.Filesystem, error) {
	windowed := &offsetReaderAt{base: p.data, offset: p.offset}
	storage := &storageAdapter{data: windowed, size: p.length}
	sqfs, err := dfsquashfs.Read(storage, p.length, 0, 1024*1024)
	if err != nil {
		return nil, fmt.Errorf("diskfmt: no recognized filesystem in partition %d: %w", p.index, err)
	}
	gate := p.chunkGate()
	gate.Claim(container.ModeReadOnly)
	return &filesystemAdapter{fs: sqfs, size: p.length, raw: gate}, nil
}

// offsetReaderAt windows a ReaderAtCloser to a sub-range starting at
// offset, for addressing one partition's bytes within its parent
// DiskImage's shared backing stream. Close is a no-op: the partition
// never owns the stream, only a view onto it (spec.md's Invariant 4).
type offsetReaderAt struct {
	base   cp2fs.ReaderAtCloser
	offset int64
}

func (o *offsetReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return o.base.ReadAt(p, o.offset+off)
}

func (o *offsetReaderAt) Close() error { return nil }
