package fst

import (
	"errors"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
)

// ErrNodeNotFound is returned by Tree.Lookup/Unmap for a missing path.
var ErrNodeNotFound = errors.New("fst: node not found")

// Node is one entry in the tree: either a file or a directory with
// sorted children, adapted from pkg/vio's TreeNode.
type Node struct {
	File     File
	Parent   *Node
	Children []*Node
}

func (n *Node) path() string {
	if n.Parent == nil {
		return "."
	}
	p := filepath.ToSlash(filepath.Join(n.Parent.path(), n.File.Name()))
	return strings.TrimPrefix(p, "./")
}

func (n *Node) mapIn(path string, f File) error {
	parts := strings.SplitN(path, "/", 2)
	next, rest := parts[0], ""
	if len(parts) == 2 {
		rest = parts[1]
	}

	k := sort.Search(len(n.Children), func(i int) bool {
		return next <= n.Children[i].File.Name()
	})

	if k < len(n.Children) && n.Children[k].File.Name() == next {
		child := n.Children[k]
		if rest == "" {
			child.File = f
			return nil
		}
		if !child.File.IsDir() {
			return errors.New("fst: cannot descend into non-directory " + next)
		}
		return child.mapIn(rest, f)
	}

	var newNode *Node
	if rest == "" {
		newNode = &Node{File: f, Parent: n}
	} else {
		dir := CustomFile(CustomFileArgs{Name: next, IsDir: true, ModTime: f.ModTime()})
		newNode = &Node{File: dir, Parent: n}
		if err := newNode.mapIn(rest, f); err != nil {
			return err
		}
	}
	n.Children = append(n.Children, nil)
	copy(n.Children[k+1:], n.Children[k:])
	n.Children[k] = newNode
	return nil
}

// WalkFunc is called for every node in a pre-order traversal.
type WalkFunc func(path string, f File) error

func (n *Node) walk(fn WalkFunc) error {
	if err := fn(n.path(), n.File); err != nil {
		return err
	}
	if n.File.IsDir() {
		for _, c := range n.Children {
			if err := c.walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tree is a rooted file tree (spec §4.5, component C6/C5's shared
// in-memory representation of an FST).
type Tree struct {
	root *Node
}

// NewTree returns an empty tree with a root directory.
func NewTree() *Tree {
	return &Tree{root: &Node{File: CustomFile(CustomFileArgs{Name: ".", IsDir: true})}}
}

// Map inserts f at path, creating parent directories as needed.
func (t *Tree) Map(path string, f File) error {
	path = strings.Trim(filepath.ToSlash(filepath.Clean(path)), "/")
	if path == "" || path == "." {
		return errors.New("fst: cannot map root")
	}
	return t.root.mapIn(path, f)
}

// Walk traverses the tree pre-order, root first with path ".".
func (t *Tree) Walk(fn WalkFunc) error {
	return t.root.walk(fn)
}

// Lookup finds the node at path.
func (t *Tree) Lookup(path string) (*Node, error) {
	path = strings.Trim(filepath.ToSlash(filepath.Clean(path)), "/")
	if path == "" || path == "." {
		return t.root, nil
	}
	node := t.root
	for _, part := range strings.Split(path, "/") {
		k := sort.Search(len(node.Children), func(i int) bool {
			return part <= node.Children[i].File.Name()
		})
		if k >= len(node.Children) || node.Children[k].File.Name() != part {
			return nil, ErrNodeNotFound
		}
		node = node.Children[k]
	}
	return node, nil
}

// FstEvent is one step of a pull-based FST traversal (spec §9 "pull
// iterators, not push callbacks"): the caller calls Next repeatedly
// instead of handing the tree a visitor function.
type FstEvent struct {
	Kind discfmt.FSTEntryFlag
	Path string
	Off  int64
	Size int64
}

// Iterator walks a Tree one node at a time via explicit stack state,
// so a caller (e.g. the composer assigning data offsets lazily) can
// interleave other work between steps.
type Iterator struct {
	stack []*Node
}

// NewIterator returns an iterator positioned before the tree's root.
func NewIterator(t *Tree) *Iterator {
	return &Iterator{stack: []*Node{t.root}}
}

// Next returns the next event and true, or a zero event and false once
// the traversal is exhausted.
func (it *Iterator) Next() (FstEvent, bool) {
	if len(it.stack) == 0 {
		return FstEvent{}, false
	}
	n := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]

	// push children in reverse so the next pop visits them in order
	for i := len(n.Children) - 1; i >= 0; i-- {
		it.stack = append(it.stack, n.Children[i])
	}

	ev := FstEvent{Path: n.path(), Size: n.File.Size()}
	if n.File.IsDir() {
		ev.Kind = discfmt.FSTDir
	} else {
		ev.Kind = discfmt.FSTFile
	}
	return ev, true
}

// countNodes returns the number of nodes in the subtree rooted at n,
// itself included, used to compute a directory's "next sibling" index
// when flattening (spec §3: a directory's Size field holds that
// index, not a byte size).
func countNodes(n *Node) int {
	c := 1
	for _, child := range n.Children {
		c += countNodes(child)
	}
	return c
}

// FlattenedEntry pairs a raw FST record with the name it refers to, so
// Flatten's caller can build the string pool alongside the record
// table.
type FlattenedEntry struct {
	Flag discfmt.FSTEntryFlag
	Name string
	// Size is the directory next-sibling index for a directory entry,
	// or the file's byte size for a file entry. File data offsets are
	// not part of the entry; the caller assigns them once layout is
	// known.
	Size int64
}

// Flatten walks the tree in FST order (root excluded; its children are
// entries 1..N) and returns the flat entry list the wire format needs.
// Data offsets are left for the caller to assign once it knows the
// disc layout; Flatten itself assigns no offsets.
func (t *Tree) Flatten() []FlattenedEntry {
	var out []FlattenedEntry
	var walk func(n *Node)
	walk = func(n *Node) {
		for _, c := range n.Children {
			if c.File.IsDir() {
				next := int64(len(out)) + 1 + int64(countNodes(c))
				out = append(out, FlattenedEntry{Flag: discfmt.FSTDir, Name: c.File.Name(), Size: next})
				walk(c)
			} else {
				out = append(out, FlattenedEntry{Flag: discfmt.FSTFile, Name: c.File.Name(), Size: c.File.Size()})
			}
		}
	}
	walk(t.root)
	return out
}
