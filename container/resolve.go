package container

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fadden/cp2/cp2fs"
	"github.com/fadden/cp2/identify"
	"github.com/fadden/cp2/logging"
)

// Result is what the Resolver produces: the Node whose content owns the
// leaf, that content itself, and — when the walk terminates inside a
// Filesystem or at a named Archive entry rather than at a whole
// container — enough to address that specific leaf without creating a
// new Node for it. A Node is created for each entry that identifies as an
// Archive or DiskImage and is descended into, including a terminal
// filesystem file that identifies as one; a terminal archive entry and an
// unrecognized filesystem file are addressed in place without a Node.
type Result struct {
	Node    *Node
	Content any

	// Filesystem/Entry are set when the walk ends inside a Filesystem,
	// at either a directory (Entry.IsDir(), requires AllowDirLeaf) or a
	// file (extract its data fork directly via Filesystem.Open).
	Filesystem cp2fs.Filesystem
	Entry      cp2fs.DirEntryRef

	// ArchiveEntryPath is set when the walk ends at a named entry of an
	// Archive (Content.(cp2fs.Archive)) rather than at the archive as a
	// whole; empty when Content is the target in its entirety.
	ArchiveEntryPath string
}

// Walk is the Resolver: it consumes comps against the tree rooted at
// start, creating child Nodes lazily and reusing any that already exist
// (spec.md §4.4's reuse rule).
//
// Grounded on backend/archive/archiver.go's NewArchive dispatch (probe the
// stream, then either hand back a Fs or recurse into the next path
// segment) generalized from "one level of archive, then plain remote
// paths" to the full Archive/DiskImage/Partition/Filesystem nesting this
// engine supports, and on backend/archive/archive.go's per-node
// directory-cache idiom for the reuse rule.
func Walk(ctx context.Context, start *Node, comps []string, opt WalkOptions) (Result, error) {
	defer logging.Trace(start, "walk %v", comps)("")

	node := start
	i := 0
	for {
		if CancelRequested() {
			return Result{}, cp2fs.NewError(cp2fs.KindCancelled, "resolve", cp2fs.ErrCancelled)
		}

		content := node.Content()
		switch c := content.(type) {
		case cp2fs.Archive:
			nextNode, consumed, entryPath, done, err := walkArchive(ctx, node, c, comps[i:], opt)
			if err != nil {
				return Result{}, err
			}
			if done {
				return Result{Node: node, Content: content, ArchiveEntryPath: entryPath}, nil
			}
			node = nextNode
			i += consumed
			continue

		case cp2fs.DiskImage:
			nextNode, consumed, fsys, entry, done, err := walkDiskImage(ctx, node, c, comps[i:], opt)
			if err != nil {
				return Result{}, err
			}
			if done {
				return Result{Node: node, Content: content, Filesystem: fsys, Entry: entry}, nil
			}
			node = nextNode
			i += consumed
			continue

		case cp2fs.Partition:
			fsys, err := c.Analyze(ctx)
			if err != nil {
				return Result{}, cp2fs.NewError(cp2fs.KindFormat, "resolve", err)
			}
			nextNode, consumed, endFsys, entry, done, err := walkFilesystemEntry(ctx, node, fsys, comps[i:], opt)
			if err != nil {
				return Result{}, err
			}
			if done {
				return Result{Node: node, Content: content, Filesystem: endFsys, Entry: entry}, nil
			}
			node = nextNode
			i += consumed
			continue

		default:
			if i >= len(comps) {
				return Result{Node: node, Content: content}, nil
			}
			return Result{}, cp2fs.NewError(cp2fs.KindUnsupported, "resolve", cp2fs.ErrUnsupportedNest)
		}
	}
}

// walkArchive handles one Archive node: simple-wrapper descent (no
// component consumed); matching an entry against an increasing-length
// concatenation of the remaining components (spec.md §4.4); and, when
// that match consumes every remaining component, terminating on that
// entry directly rather than extracting and identifying it — identifying
// only happens for an entry the walk must continue *through*.
func walkArchive(ctx context.Context, node *Node, arc cp2fs.Archive, remaining []string, opt WalkOptions) (next *Node, consumed int, entryPath string, done bool, err error) {
	if opt.SkipSimpleWrapper {
		if simple, serr := arc.IsSimpleWrapper(ctx); serr == nil && simple {
			// spec.md §4.4 termination rule 3 only treats the CURRENT
			// content as a terminal leaf when it is "not a simple-skip
			// wrapper": an un-descended simple wrapper is never terminal,
			// even with zero components remaining, so the implicit
			// descent below always happens regardless of remaining's
			// length.
			single, perr := arc.SingleEntryPath(ctx)
			if perr != nil {
				return nil, 0, "", false, cp2fs.NewError(cp2fs.KindFormat, "resolve", perr)
			}
			child, cerr := descendArchiveEntry(ctx, node, arc, single)
			if cerr != nil {
				return nil, 0, "", false, cerr
			}
			return child, 0, "", false, nil
		}
	}
	if len(remaining) == 0 {
		return nil, 0, "", true, nil
	}
	matched, n, err := matchArchiveEntry(ctx, arc, remaining)
	if err != nil {
		return nil, 0, "", false, cp2fs.NewError(cp2fs.KindNotFound, "resolve", err)
	}
	if n == len(remaining) {
		return nil, n, matched, true, nil
	}
	child, err := descendArchiveEntry(ctx, node, arc, matched)
	if err != nil {
		return nil, 0, "", false, err
	}
	return child, n, "", false, nil
}

// matchArchiveEntry tries increasingly long "/"-joined concatenations of
// remaining, shortest first, and returns the first that matches an entry.
// This resolves the Open Question in SPEC_FULL.md in favor of the first
// match in iteration order rather than the longest possible match.
func matchArchiveEntry(ctx context.Context, arc cp2fs.Archive, remaining []string) (string, int, error) {
	for n := 1; n <= len(remaining); n++ {
		candidate := strings.Join(remaining[:n], "/")
		if _, err := arc.FindByPath(ctx, candidate); err == nil {
			return candidate, n, nil
		}
	}
	return "", 0, cp2fs.ErrNotFound
}

// descendArchiveEntry reuses an existing child if one is already open for
// entryPath (the reuse rule), or extracts the entry into a TempStore,
// identifies it, and creates a new child node. Only called for an entry
// the walk must continue through, never for a terminal leaf.
func descendArchiveEntry(ctx context.Context, node *Node, arc cp2fs.Archive, entryPath string) (*Node, error) {
	key := EntryID{Path: entryPath}
	if child, ok := node.childFor(key); ok {
		return child, nil
	}

	info, err := arc.FindByPath(ctx, entryPath)
	if err != nil {
		return nil, cp2fs.NewError(cp2fs.KindNotFound, "resolve", err)
	}
	if info.IsDir {
		return nil, cp2fs.NewError(cp2fs.KindUnsupported, "resolve", cp2fs.ErrDirectoryAsFile)
	}

	rc, err := arc.Open(ctx, entryPath, cp2fs.ForkData)
	if err != nil {
		return nil, cp2fs.NewError(cp2fs.KindIO, "resolve", err)
	}
	defer rc.Close()

	return identifyIntoChild(ctx, node, key, rc, info.DataLength)
}

// walkDiskImage dispatches on the analyzed body of a DiskImage: a
// MultiPart selects (and lazily creates) a Partition child by index or
// name; a Filesystem is walked in place (it is not its own Node kind, per
// spec.md §9's tagged-Kind data model).
func walkDiskImage(ctx context.Context, node *Node, img cp2fs.DiskImage, remaining []string, opt WalkOptions) (next *Node, consumed int, fsys cp2fs.Filesystem, entry cp2fs.DirEntryRef, done bool, err error) {
	if err := img.Analyze(ctx); err != nil {
		return nil, 0, nil, nil, false, cp2fs.NewError(cp2fs.KindFormat, "resolve", err)
	}
	// spec.md §4.4 termination rule 3: once components are exhausted, the
	// CURRENT content (the DiskImage itself, which is never a simple
	// wrapper) is the leaf. Unlike an Archive's implicit simple-wrapper
	// descent, a DiskImage never auto-descends into its recognized
	// Filesystem/MultiPart body just because no further components were
	// given — that mirrors the "empty archive: walk with no additional
	// components returns the archive" boundary case in spec.md §8.
	if len(remaining) == 0 {
		return nil, 0, nil, nil, true, nil
	}
	switch body := img.Contents().(type) {
	case cp2fs.Filesystem:
		return walkFilesystemEntry(ctx, node, body, remaining, opt)
	case cp2fs.MultiPart:
		part, err := selectPartition(body, remaining[0])
		if err != nil {
			return nil, 0, nil, nil, false, err
		}
		key := EntryID{Index: part.Index(), Name: part.Name()}
		if child, ok := node.childFor(key); ok {
			return child, 1, nil, nil, false, nil
		}
		child := newNode(KindPartition, node, key, nil, part)
		node.setChild(key, child)
		return child, 1, nil, nil, false, nil
	default:
		return nil, 0, nil, nil, false, cp2fs.NewError(cp2fs.KindUnsupported, "resolve", cp2fs.ErrUnsupportedNest)
	}
}

// selectPartition resolves one path component to a Partition, by 1-based
// index first and falling back to a case-insensitive name match, per
// spec.md §4.4's multi-partition addressing.
func selectPartition(body cp2fs.MultiPart, token string) (cp2fs.Partition, error) {
	parts := body.Partitions()
	if idx, err := strconv.Atoi(token); err == nil && idx >= 1 && idx <= len(parts) {
		return parts[idx-1], nil
	}
	for _, p := range parts {
		if strings.EqualFold(p.Name(), token) {
			return p, nil
		}
	}
	return nil, cp2fs.NewError(cp2fs.KindNotFound, "resolve", fmt.Errorf("no partition named %q", token))
}

// walkFilesystemEntry descends a Filesystem in place: directories are
// followed without creating a new Node, embedded volumes are tried by
// 1-based index before falling back to a name lookup (spec.md's
// embedded-volume-index-vs-filename ambiguity rule favors the index), and
// every file reached — whether or not it is the last remaining component
// — has its data fork extracted and identified (spec.md §4.4's
// Filesystem-walking rule runs identification unconditionally). A file
// that identifies as an Archive/DiskImage becomes a child Node, whether
// or not the walk has any further components to pass through it; a file
// that doesn't identify as anything falls back to a raw Entry leaf.
func walkFilesystemEntry(ctx context.Context, node *Node, fsys cp2fs.Filesystem, remaining []string, opt WalkOptions) (next *Node, consumed int, endFsys cp2fs.Filesystem, endEntry cp2fs.DirEntryRef, done bool, err error) {
	dir := fsys.VolumeDir()
	j := 0
	for j < len(remaining) {
		comp := remaining[j]

		if vols, verr := fsys.EmbeddedVolumes(ctx); verr == nil && len(vols) > 0 {
			if idx, aerr := strconv.Atoi(comp); aerr == nil && idx >= 1 && idx <= len(vols) {
				fsys = vols[idx-1]
				dir = fsys.VolumeDir()
				j++
				continue
			}
		}

		entry, ferr := fsys.FindByName(ctx, dir, comp)
		if ferr != nil {
			return nil, 0, nil, nil, false, cp2fs.NewError(cp2fs.KindNotFound, "resolve", ferr)
		}
		if entry.IsDir() {
			dir = entry
			j++
			continue
		}

		key := EntryID{Path: fsEntryKey(fsys, entry)}
		if child, ok := node.childFor(key); ok {
			return child, j + 1, nil, nil, false, nil
		}

		rc, oerr := fsys.Open(ctx, entry, cp2fs.ForkData)
		if oerr != nil {
			return nil, 0, nil, nil, false, cp2fs.NewError(cp2fs.KindIO, "resolve", oerr)
		}
		// spec.md §4.4's Filesystem-walking rule runs identification on a
		// file's data fork unconditionally, not only when more components
		// remain to walk through it: a terminal file that is itself a
		// recognized Archive/DiskImage (e.g. ".../DIR/inner.shk" where
		// inner.shk is a NuFX archive) must still become a child Node, not
		// a raw Entry leaf. Only a file that doesn't identify as anything
		// (ResultNone) falls back to the raw Entry.
		child, identified, cerr := identifyOptional(ctx, node, key, rc, -1)
		rc.Close()
		if cerr != nil {
			return nil, 0, nil, nil, false, cerr
		}
		if !identified {
			return nil, j + 1, fsys, entry, true, nil
		}
		return child, j + 1, nil, nil, false, nil
	}

	if !opt.AllowDirLeaf {
		return nil, 0, nil, nil, false, cp2fs.NewError(cp2fs.KindUnsupported, "resolve", cp2fs.ErrDirectoryAsFile)
	}
	return nil, j, fsys, dir, true, nil
}

func fsEntryKey(fsys cp2fs.Filesystem, entry cp2fs.DirEntryRef) string {
	return fsys.Format() + "/" + entry.Name()
}

// identifyIntoChild extracts rc into a TempStore sized by sizeHint (-1 if
// unknown), identifies it, and installs a new child Node under key. Used by
// descendArchiveEntry, sized from the matched entry's own
// EntryInfo.DataLength, whenever the walk must continue *through* that
// entry — an Archive entry match that doesn't consume every remaining
// component, or a simple wrapper's single entry — where failing to identify
// is always an error, since there is nowhere else for the walk to go.
func identifyIntoChild(ctx context.Context, parent *Node, key EntryID, rc io.Reader, sizeHint int64) (*Node, error) {
	child, identified, err := identifyOptional(ctx, parent, key, rc, sizeHint)
	if err != nil {
		return nil, err
	}
	if !identified {
		return nil, cp2fs.NewError(cp2fs.KindUnsupported, "resolve", cp2fs.ErrUnsupportedNest)
	}
	return child, nil
}

// identifyOptional is identifyIntoChild's extract-and-identify core, but
// leaves an unrecognized stream (identify.ResultNone) to the caller
// instead of treating it as an error. Used by walkFilesystemEntry for every
// filesystem file reached, where spec.md §4.4 runs identification unconditionally but an
// unrecognized result simply means the file is a plain leaf, not that
// the walk failed.
func identifyOptional(ctx context.Context, parent *Node, key EntryID, rc io.Reader, sizeHint int64) (*Node, bool, error) {
	store, err := NewTempStore(sizeHint)
	if err != nil {
		return nil, false, cp2fs.NewError(cp2fs.KindIO, "resolve", err)
	}
	if _, err := copyIntoStore(store, rc); err != nil {
		store.Discard()
		return nil, false, cp2fs.NewError(cp2fs.KindIO, "resolve", err)
	}
	result, err := identify.Identify(ctx, store, store.Size(), key.Path)
	if err != nil {
		store.Discard()
		return nil, false, err
	}
	if result.Kind == identify.ResultNone {
		store.Discard()
		return nil, false, nil
	}
	var child *Node
	switch result.Kind {
	case identify.ResultArchive:
		child = newNode(KindArchive, parent, key, store, result.Archive)
	case identify.ResultDiskImage:
		child = newNode(KindDiskImage, parent, key, store, result.DiskImage)
	}
	parent.setChild(key, child)
	return child, true, nil
}

func copyIntoStore(store TempStore, r io.Reader) (int64, error) {
	buf := make([]byte, 64*1024)
	var total int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := store.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return total, nil
			}
			return total, rerr
		}
	}
}
