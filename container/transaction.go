package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fadden/cp2/cp2fs"
	"github.com/fadden/cp2/logging"
)

// SaveUpdates is the TransactionCoordinator's one exposed operation
// (spec.md §4.6): a post-order walk of the tree that commits every dirty
// Archive node bottom-up, so that by the time an outer Archive commits,
// every inner Archive it holds has already produced its updated bytes.
// Grounded on backend/archive/base.Fs's single-level Commit/Cancel pair,
// generalized to the recursive, multi-level commit spec.md requires.
func SaveUpdates(ctx context.Context, host *Node) error {
	if !host.Dirty() {
		return nil
	}
	defer logging.Trace(host, "save_tree")("")
	return saveNode(ctx, host)
}

// CancelAll discards every pending mutation in the tree without writing
// anything back, the counterpart spec.md §4.6 requires for an aborted
// edit session.
func CancelAll(ctx context.Context, host *Node) error {
	return cancelNode(ctx, host)
}

func saveNode(ctx context.Context, n *Node) error {
	if !n.Dirty() {
		return nil
	}
	kids := n.insertionOrder()
	// dirtyKids records which children actually changed, captured before
	// recursing: saveNode clears a child's own bit once it commits, so by
	// the time the propagation loop below runs, Dirty() on a just-saved
	// child would always read false and every entry would look untouched.
	dirtyKids := make(map[*Node]bool, len(kids))
	for _, k := range kids {
		if k.Dirty() {
			dirtyKids[k] = true
			if err := saveNode(ctx, k); err != nil {
				return err
			}
		}
	}

	switch c := n.Content().(type) {
	case cp2fs.Archive:
		if !c.Writable() {
			return cp2fs.NewError(cp2fs.KindNotWritable, "save_tree", cp2fs.ErrNotWritable)
		}
		// A node can be dirty purely because a descendant's bytes changed,
		// with nobody ever having called StartTransaction on THIS archive
		// directly (the caller only touched the deep leaf). StartTransaction
		// must therefore be idempotent in every Archive implementation: a
		// second call here, when the caller already opened one to stage its
		// own CreateRecord/AddPart/DeleteRecord edits, must not discard that
		// staged state.
		if err := c.StartTransaction(ctx); err != nil {
			return cp2fs.NewError(cp2fs.KindIO, "save_tree", err)
		}
		for _, k := range kids {
			if !dirtyKids[k] || k.entryInParent == nil || k.entryInParent.Path == "" {
				continue
			}
			data, err := readNodeBytes(k)
			if err != nil {
				return cp2fs.NewError(cp2fs.KindIO, "save_tree", err)
			}
			if err := c.AddPart(ctx, k.entryInParent.Path, cp2fs.ForkData, bytes.NewReader(data), cp2fs.CompressDefault); err != nil {
				return cp2fs.NewError(cp2fs.KindIO, "save_tree", err)
			}
		}
		var buf bytes.Buffer
		if err := c.Commit(ctx, &buf); err != nil {
			return cp2fs.NewError(cp2fs.KindIO, "save_tree", err)
		}
		if err := writeNodeBytes(n, buf.Bytes()); err != nil {
			return cp2fs.NewError(cp2fs.KindIO, "save_tree", err)
		}

	case cp2fs.DiskImage:
		if err := c.Flush(ctx); err != nil {
			return cp2fs.NewError(cp2fs.KindIO, "save_tree", err)
		}

	default:
		// Partition and unrecognized content have nothing of their own to
		// commit; any mutation lives in a Filesystem reached through them,
		// which writes through its ChunkAccess directly.
	}

	n.clearDirty()
	return nil
}

func cancelNode(ctx context.Context, n *Node) error {
	kids := n.insertionOrder()
	for _, k := range kids {
		if err := cancelNode(ctx, k); err != nil {
			return err
		}
	}
	if arc, ok := n.Content().(cp2fs.Archive); ok && n.Dirty() {
		if err := arc.Cancel(ctx); err != nil {
			return cp2fs.NewError(cp2fs.KindIO, "cancel_all", err)
		}
	}
	n.clearDirty()
	return nil
}

// sizedStream is the subset of TempStore (and any other Stream
// implementation that tracks its own extent) readNodeBytes/writeNodeBytes
// rely on to size a whole-stream read without a format-specific type
// assertion such as *os.File.
type sizedStream interface {
	Size() int64
}

// truncatingStream is satisfied by any Stream that can shrink or grow its
// backing storage before a whole-stream rewrite; *os.File satisfies this
// directly, and TempStore implementations through their own Truncate.
type truncatingStream interface {
	Truncate(size int64) error
}

// readNodeBytes returns the full current backing bytes of n, read from
// whichever Stream actually backs it: its own (an inner Archive's
// TempStore) or, for the top-level node layered directly on the HostFile,
// its parent's — propagated into a parent Archive's AddPart on save.
func readNodeBytes(n *Node) ([]byte, error) {
	n.mu.Lock()
	stream := n.stream
	parent := n.parent
	n.mu.Unlock()

	if stream != nil {
		return readWholeStream(stream)
	}
	if parent != nil {
		parent.mu.Lock()
		pstream := parent.stream
		parent.mu.Unlock()
		return readWholeStream(pstream)
	}
	return nil, fmt.Errorf("container: no backing bytes for node")
}

// writeNodeBytes replaces n's backing bytes with data: an in-place
// WriteAt for a TempStore-backed node, or a truncate-and-rewrite of the
// actual host file for the top-level node that shares the HostFile node's
// stream instead of owning one of its own.
func writeNodeBytes(n *Node, data []byte) error {
	n.mu.Lock()
	stream := n.stream
	parent := n.parent
	n.mu.Unlock()

	if stream != nil {
		return writeWholeStream(stream, data)
	}
	if parent != nil {
		parent.mu.Lock()
		pstream := parent.stream
		parent.mu.Unlock()
		return writeWholeStream(pstream, data)
	}
	return fmt.Errorf("container: cannot locate backing stream to save")
}

func readWholeStream(stream Stream) ([]byte, error) {
	if stream == nil {
		return nil, fmt.Errorf("container: nil backing stream")
	}
	size, err := streamSize(stream)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := stream.ReadAt(buf, 0); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return buf, nil
}

func writeWholeStream(stream Stream, data []byte) error {
	if stream == nil {
		return fmt.Errorf("container: nil backing stream")
	}
	if t, ok := stream.(truncatingStream); ok {
		if err := t.Truncate(int64(len(data))); err != nil {
			return err
		}
	}
	_, err := stream.WriteAt(data, 0)
	return err
}

func streamSize(stream Stream) (int64, error) {
	if s, ok := stream.(sizedStream); ok {
		return s.Size(), nil
	}
	if f, ok := stream.(interface{ Stat() (os.FileInfo, error) }); ok {
		info, err := f.Stat()
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}
	return 0, fmt.Errorf("container: cannot determine backing stream size")
}
