package container

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/fadden/cp2/cp2fs"
	"github.com/fadden/cp2/cp2path"
	"github.com/fadden/cp2/identify"
	"github.com/fadden/cp2/logging"
)

// Root is the handle returned by OpenExtArchive: the exposed "open_ext_archive"
// operation of spec.md §6. It owns the HostFile node at the base of one
// tree and the identified content node layered directly on top of it, and
// is reference-counted so that two overlapping OpenExtArchive calls against
// the same host file (spec.md's reuse rule) share one tree instead of
// opening the host file twice, which Invariant 1 forbids outright.
type Root struct {
	mu       sync.Mutex
	hostPath string
	host     *Node // Kind == KindHostFile
	top      *Node // identified content, child of host
	refs     int
}

// WalkOptions configures one Resolver pass, per spec.md §4.4.
type WalkOptions struct {
	// SkipSimpleWrapper causes a single-entry wrapper archive (gzip, a
	// NuFX file holding one disk image) to be transparently descended
	// without consuming a path component, per spec.md §4.3.
	SkipSimpleWrapper bool
	// AllowDirLeaf permits the walk to terminate on a filesystem
	// directory instead of requiring a file.
	AllowDirLeaf bool
	// ReadOnly opens the host file (and every node below it) without
	// write access.
	ReadOnly bool
}

// OpenExtArchive parses path, opens (or reuses) the host file it names,
// and walks the remaining components, per spec.md §4.4 and §6.
func OpenExtArchive(ctx context.Context, path string, opt WalkOptions) (*Root, Result, error) {
	comps, err := cp2path.Parse(path)
	if err != nil {
		return nil, Result{}, cp2fs.NewError(cp2fs.KindPath, "open_ext_archive", err)
	}
	if len(comps) == 0 {
		return nil, Result{}, cp2fs.NewError(cp2fs.KindPath, "open_ext_archive", cp2fs.ErrEmptyComponent)
	}
	hostPath := comps[0]

	root, reused, err := globalHostRegistry.getOrCreate(hostPath, func() (*Root, error) {
		return newRoot(ctx, hostPath, opt.ReadOnly)
	})
	if err != nil {
		return nil, Result{}, err
	}
	logging.Debugf(root, "open_ext_archive %q (reused=%v)", path, reused)

	root.mu.Lock()
	root.refs++
	root.mu.Unlock()

	result, err := Walk(ctx, root.top, comps[1:], opt)
	if err != nil {
		root.Close(ctx)
		return nil, Result{}, err
	}
	return root, result, nil
}

func newRoot(ctx context.Context, hostPath string, readOnly bool) (*Root, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(hostPath, flag, 0)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cp2fs.NewError(cp2fs.KindNotFound, "open_ext_archive", err)
		}
		return nil, cp2fs.NewError(cp2fs.KindIO, "open_ext_archive", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, cp2fs.NewError(cp2fs.KindIO, "open_ext_archive", err)
	}

	host := newNode(KindHostFile, nil, EntryID{}, f, nil)
	host.hostPath = hostPath

	result, err := identify.Identify(ctx, f, info.Size(), hostPath)
	if err != nil {
		host.drop(ctx)
		return nil, err
	}
	if result.Kind == identify.ResultNone {
		host.drop(ctx)
		return nil, cp2fs.NewError(cp2fs.KindFormat, "open_ext_archive", cp2fs.ErrUnrecognized)
	}

	var top *Node
	switch result.Kind {
	case identify.ResultArchive:
		top = newNode(KindArchive, host, EntryID{}, nil, result.Archive)
	case identify.ResultDiskImage:
		top = newNode(KindDiskImage, host, EntryID{}, nil, result.DiskImage)
	}
	host.setChild(EntryID{}, top)

	return &Root{hostPath: hostPath, host: host, top: top}, nil
}

// Close releases one reference to the tree; when the last reference is
// released the whole tree is dropped in LIFO order (spec.md §3) and the
// host file is forgotten from the dedup registry.
func (r *Root) Close(ctx context.Context) error {
	r.mu.Lock()
	r.refs--
	remaining := r.refs
	r.mu.Unlock()
	if remaining > 0 {
		return nil
	}
	globalHostRegistry.forget(ctx, r.hostPath)
	r.host.drop(ctx)
	return nil
}

// Save walks the tree and commits every dirty node, the exposed
// "save_tree" operation (TransactionCoordinator.SaveUpdates).
func (r *Root) Save(ctx context.Context) error {
	return SaveUpdates(ctx, r.host)
}

// HostPath is the path of the host file backing this tree.
func (r *Root) HostPath() string { return r.hostPath }

func (r *Root) String() string { return fmt.Sprintf("Root(%s)", r.hostPath) }
