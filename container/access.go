package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/fadden/cp2/cp2fs"
)

// Mode is the access mode an AccessGate enforces.
type Mode int

// Access modes, per spec.md §4.8.
const (
	ModeOpen Mode = iota
	ModeReadOnly
	ModeClosed
)

// AccessGate wraps a cp2fs.ChunkAccess, enforcing read-only/read-write
// gating when a Filesystem analysis claims the underlying accessor.
// Grounded on backend/archive/base/base.go's pattern of returning
// vfs.EROFS from every mutating method of a read-only wrapper,
// generalized from "always read-only" to the three explicit modes
// spec.md §4.8 names (Open/ReadOnly/Closed) with restore-on-release.
type AccessGate struct {
	mu        sync.Mutex
	raw       cp2fs.ChunkAccess
	mode      Mode
	priorMode Mode
	claimed   bool
}

// NewAccessGate wraps raw, initially in ModeOpen.
func NewAccessGate(raw cp2fs.ChunkAccess) *AccessGate {
	return &AccessGate{raw: raw, mode: ModeOpen}
}

// ErrGateClosed is returned for any I/O attempted while the gate is
// ModeClosed, or for a write attempted while ModeReadOnly.
var ErrGateClosed = fmt.Errorf("container: chunk accessor not available in current mode")

// Claim is called by a Filesystem analysis taking ownership of raw for
// mode; the gate remembers the prior mode so Release can restore it.
func (g *AccessGate) Claim(mode Mode) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.priorMode = g.mode
	g.mode = mode
	g.claimed = true
}

// Release restores the mode in effect before the most recent Claim.
func (g *AccessGate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed {
		g.mode = g.priorMode
		g.claimed = false
	}
}

// Mode reports the gate's current mode.
func (g *AccessGate) Mode() Mode {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode
}

func (g *AccessGate) checkRead() error {
	g.mu.Lock()
	mode := g.mode
	g.mu.Unlock()
	if mode == ModeClosed {
		return ErrGateClosed
	}
	return nil
}

func (g *AccessGate) checkWrite() error {
	g.mu.Lock()
	mode := g.mode
	g.mu.Unlock()
	if mode != ModeOpen {
		return ErrGateClosed
	}
	return nil
}

// ReadBlock, WriteBlock, ReadSector, WriteSector implement
// cp2fs.ChunkAccess, gating each call by the current Mode.
func (g *AccessGate) ReadBlock(block int, p []byte) error {
	if err := g.checkRead(); err != nil {
		return err
	}
	return g.raw.ReadBlock(block, p)
}

func (g *AccessGate) WriteBlock(block int, p []byte) error {
	if err := g.checkWrite(); err != nil {
		return err
	}
	return g.raw.WriteBlock(block, p)
}

func (g *AccessGate) ReadSector(track, sector int, p []byte) error {
	if err := g.checkRead(); err != nil {
		return err
	}
	return g.raw.ReadSector(track, sector, p)
}

func (g *AccessGate) WriteSector(track, sector int, p []byte) error {
	if err := g.checkWrite(); err != nil {
		return err
	}
	return g.raw.WriteSector(track, sector, p)
}

func (g *AccessGate) FormattedLength() int64 { return g.raw.FormattedLength() }
func (g *AccessGate) NumTracks() int         { return g.raw.NumTracks() }
func (g *AccessGate) SectorsPerTrack() int   { return g.raw.SectorsPerTrack() }
func (g *AccessGate) HasBlocks() bool        { return g.raw.HasBlocks() }
func (g *AccessGate) HasSectors() bool       { return g.raw.HasSectors() }

var _ cp2fs.ChunkAccess = (*AccessGate)(nil)

// wholeDiskBlockSize and wholeDiskSectorSize are the fixed unit sizes a
// ChunkAccess's block/sector addressing implies — ProDOS's 512-byte
// block and DOS 3.2/3.3's 256-byte sector, the two vintage geometries
// spec.md's disk formats use.
const (
	wholeDiskBlockSize  = 512
	wholeDiskSectorSize = 256
)

// WholeDiskCopyStats reports the outcome of a whole-disk copy: Copied
// is always the source's full geometry (tracks × sectors-per-track, or
// total blocks) regardless of errors; Errors counts how many of those
// units could not be read from source.
type WholeDiskCopyStats struct {
	Copied int
	Errors int
}

// CopyWholeDisk copies every sector or block src publishes to dst, in
// source-geometry order, per spec.md §7/P6: a read failure against src
// is not propagated outward — the block written to dst is zero-filled
// instead and the failure is counted — but every unit is still
// attempted, so Copied always equals the source's full geometry no
// matter how many individual reads failed. A write failure against dst
// is not recoverable and is returned immediately, since there is
// nothing sensible to substitute for lost destination capacity.
//
// Grounded on spec.md §7's "errors flow outward, the core does not
// retry" policy, generalized to the one deliberate local-recovery
// exception it carves out for whole-disk copy helpers; the per-unit
// cancellation check mirrors container/resolve.go's per-entry
// CancelRequested polling (spec.md §5's "per entry, per sector"
// cancellation boundary).
func CopyWholeDisk(ctx context.Context, dst, src cp2fs.ChunkAccess) (WholeDiskCopyStats, error) {
	switch {
	case src.HasBlocks():
		return copyWholeDiskBlocks(dst, src)
	case src.HasSectors():
		return copyWholeDiskSectors(dst, src)
	default:
		return WholeDiskCopyStats{}, fmt.Errorf("container: source has neither block nor sector addressing")
	}
}

func copyWholeDiskBlocks(dst, src cp2fs.ChunkAccess) (WholeDiskCopyStats, error) {
	var stats WholeDiskCopyStats
	total := int(src.FormattedLength() / wholeDiskBlockSize)
	buf := make([]byte, wholeDiskBlockSize)
	for block := 0; block < total; block++ {
		if CancelRequested() {
			return stats, cp2fs.NewError(cp2fs.KindCancelled, "copy", cp2fs.ErrCancelled)
		}
		if err := src.ReadBlock(block, buf); err != nil {
			for i := range buf {
				buf[i] = 0
			}
			stats.Errors++
		}
		if err := dst.WriteBlock(block, buf); err != nil {
			return stats, fmt.Errorf("container: write block %d: %w", block, err)
		}
		stats.Copied++
	}
	return stats, nil
}

func copyWholeDiskSectors(dst, src cp2fs.ChunkAccess) (WholeDiskCopyStats, error) {
	var stats WholeDiskCopyStats
	tracks := src.NumTracks()
	sectorsPerTrack := src.SectorsPerTrack()
	buf := make([]byte, wholeDiskSectorSize)
	for t := 0; t < tracks; t++ {
		for s := 0; s < sectorsPerTrack; s++ {
			if CancelRequested() {
				return stats, cp2fs.NewError(cp2fs.KindCancelled, "copy", cp2fs.ErrCancelled)
			}
			if err := src.ReadSector(t, s, buf); err != nil {
				for i := range buf {
					buf[i] = 0
				}
				stats.Errors++
			}
			if err := dst.WriteSector(t, s, buf); err != nil {
				return stats, fmt.Errorf("container: write sector %d/%d: %w", t, s, err)
			}
			stats.Copied++
		}
	}
	return stats, nil
}
