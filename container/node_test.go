package container

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fadden/cp2/container/cp2fstest"
)

func TestNode_ChildForReuse(t *testing.T) {
	parent := newNode(KindArchive, nil, EntryID{}, nil, &cp2fstest.Archive{})
	key := EntryID{Path: "A.PO"}
	child := newNode(KindDiskImage, parent, key, nil, &cp2fstest.DiskImage{})
	parent.setChild(key, child)

	got, ok := parent.childFor(key)
	require.True(t, ok)
	assert.Same(t, child, got)

	_, ok = parent.childFor(EntryID{Path: "MISSING"})
	assert.False(t, ok)
}

func TestNode_MarkDirtyPropagatesToRoot(t *testing.T) {
	root := newNode(KindHostFile, nil, EntryID{}, nil, nil)
	mid := newNode(KindArchive, root, EntryID{Path: "A"}, nil, &cp2fstest.Archive{})
	leaf := newNode(KindDiskImage, mid, EntryID{Path: "B"}, nil, &cp2fstest.DiskImage{})
	root.setChild(EntryID{Path: "A"}, mid)
	mid.setChild(EntryID{Path: "B"}, leaf)

	leaf.markDirty()

	assert.True(t, leaf.Dirty())
	assert.True(t, mid.Dirty())
	assert.True(t, root.Dirty())
}

func TestNode_MarkDirtyExportedMatchesInternal(t *testing.T) {
	root := newNode(KindHostFile, nil, EntryID{}, nil, nil)
	leaf := newNode(KindArchive, root, EntryID{Path: "A"}, nil, &cp2fstest.Archive{})
	root.setChild(EntryID{Path: "A"}, leaf)

	// Command code that mutates Content directly (spec.md §4.6 rule 1)
	// has only the exported MarkDirty to tell the tree about it.
	leaf.MarkDirty()

	assert.True(t, leaf.Dirty())
	assert.True(t, root.Dirty())
}

func TestNode_ClearDirtyIsPerNode(t *testing.T) {
	root := newNode(KindHostFile, nil, EntryID{}, nil, nil)
	child := newNode(KindArchive, root, EntryID{Path: "A"}, nil, &cp2fstest.Archive{})
	root.setChild(EntryID{Path: "A"}, child)

	child.markDirty()
	child.clearDirty()

	assert.False(t, child.Dirty())
	assert.True(t, root.Dirty())
}

func TestNode_DropClearsChildrenAndContent(t *testing.T) {
	root := newNode(KindHostFile, nil, EntryID{}, nil, nil)
	child := newNode(KindArchive, root, EntryID{Path: "A"}, nil, &cp2fstest.Archive{})
	root.setChild(EntryID{Path: "A"}, child)

	root.drop(context.Background())

	assert.Nil(t, root.children)
	assert.Nil(t, root.Content())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "HostFile", KindHostFile.String())
	assert.Equal(t, "Archive", KindArchive.String())
	assert.Equal(t, "DiskImage", KindDiskImage.String())
	assert.Equal(t, "Partition", KindPartition.String())
}
