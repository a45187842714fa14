package fst

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapAndLookup(t *testing.T) {
	tr := NewTree()
	require.NoError(t, tr.Map("sys/boot.bin", CustomFile(CustomFileArgs{Name: "boot.bin", Size: 0x440})))
	require.NoError(t, tr.Map("files/readme.txt", CustomFile(CustomFileArgs{Name: "readme.txt", Size: 42})))

	n, err := tr.Lookup("sys/boot.bin")
	require.NoError(t, err)
	require.Equal(t, int64(0x440), n.File.Size())

	_, err = tr.Lookup("nope")
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestWalkVisitsAllNodes(t *testing.T) {
	tr := NewTree()
	require.NoError(t, tr.Map("a/b.txt", CustomFile(CustomFileArgs{Name: "b.txt", Size: 1})))
	require.NoError(t, tr.Map("c.txt", CustomFile(CustomFileArgs{Name: "c.txt", Size: 2})))

	var paths []string
	require.NoError(t, tr.Walk(func(path string, f File) error {
		paths = append(paths, path)
		return nil
	}))
	require.Contains(t, paths, ".")
	require.Contains(t, paths, "a")
	require.Contains(t, paths, "a/b.txt")
	require.Contains(t, paths, "c.txt")
}

func TestIteratorMatchesWalk(t *testing.T) {
	tr := NewTree()
	require.NoError(t, tr.Map("a/b.txt", CustomFile(CustomFileArgs{Name: "b.txt", Size: 1})))
	require.NoError(t, tr.Map("c.txt", CustomFile(CustomFileArgs{Name: "c.txt", Size: 2})))

	var walked []string
	require.NoError(t, tr.Walk(func(path string, f File) error {
		walked = append(walked, path)
		return nil
	}))

	it := NewIterator(tr)
	var n int
	var iterated []string
	for {
		ev, ok := it.Next()
		if !ok {
			break
		}
		iterated = append(iterated, ev.Path)
		n++
	}
	require.Equal(t, 4, n) // root, a, a/b.txt, c.txt
	require.Equal(t, walked, iterated)
}

func TestFlattenDirNextSiblingIndex(t *testing.T) {
	tr := NewTree()
	require.NoError(t, tr.Map("a/b.txt", CustomFile(CustomFileArgs{Name: "b.txt", Size: 1})))
	require.NoError(t, tr.Map("c.txt", CustomFile(CustomFileArgs{Name: "c.txt", Size: 2})))

	entries := tr.Flatten()
	require.Len(t, entries, 3) // a, a/b.txt, c.txt
	require.Equal(t, "a", entries[0].Name)
	// entry[0] is "a" at real FST index 1; its subtree (itself + b.txt)
	// has 2 nodes, so next sibling is real index 3 == c.txt.
	require.Equal(t, int64(3), entries[0].Size)
	require.Equal(t, "c.txt", entries[2].Name)
}
