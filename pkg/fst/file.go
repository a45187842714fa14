// Package fst builds and flattens the in-memory file tree that backs
// both the composer (component C6, building a virtual disc from a
// directory) and the disc reader (component C5, exposing an existing
// disc's FST as a tree for iteration/extraction).
//
// It is adapted from pkg/vio's FileTree/File/TreeNode trio: the same
// lazy-open File abstraction and sorted-children TreeNode structure,
// with symlink support dropped (the Wii FST format has no symlink
// entry kind, spec §3) and a Flatten method added that walks the tree
// in FST order and returns one FlattenedEntry (flag, name, size) per
// node; the 12-byte wire records and the string pool are built from
// those entries by compose.encodeFST.
package fst

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// File represents one file's metadata and lazily-openable content.
type File interface {
	Name() string
	Size() int64
	ModTime() time.Time
	IsDir() bool
	Read(p []byte) (int, error)
	Close() error
}

// CustomFileArgs constructs a File not backed by the local filesystem.
type CustomFileArgs struct {
	Name       string
	Size       int64
	ModTime    time.Time
	IsDir      bool
	ReadCloser io.ReadCloser
}

// CustomFile builds a File from explicit metadata and content.
func CustomFile(args CustomFileArgs) File {
	return &customFile{
		name:    args.Name,
		size:    args.Size,
		modTime: args.ModTime,
		isDir:   args.IsDir,
		rc:      args.ReadCloser,
	}
}

type customFile struct {
	name    string
	size    int64
	modTime time.Time
	isDir   bool
	rc      io.ReadCloser
}

func (f *customFile) Name() string         { return f.name }
func (f *customFile) Size() int64          { return f.size }
func (f *customFile) ModTime() time.Time   { return f.modTime }
func (f *customFile) IsDir() bool          { return f.isDir }
func (f *customFile) Read(p []byte) (int, error) {
	if f.rc == nil {
		return 0, io.EOF
	}
	return f.rc.Read(p)
}
func (f *customFile) Close() error {
	if f.rc != nil {
		return f.rc.Close()
	}
	return nil
}

// LazyOpen stats path immediately but defers opening its content until
// the first Read, mirroring pkg/vio.LazyOpen's deferred-I/O pattern so
// that building a tree over a large directory does not exhaust file
// descriptors.
func LazyOpen(path string) (File, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	var f *os.File
	openFunc := func() (io.Reader, error) {
		var err error
		f, err = os.Open(path)
		return f, err
	}
	closeFunc := func() error {
		if f != nil {
			return f.Close()
		}
		return nil
	}

	return CustomFile(CustomFileArgs{
		Name:       fi.Name(),
		Size:       fi.Size(),
		ModTime:    fi.ModTime(),
		IsDir:      fi.IsDir(),
		ReadCloser: &lazyReadCloser{openFunc: openFunc, closeFunc: closeFunc},
	}), nil
}

type lazyReadCloser struct {
	r         io.Reader
	opened    bool
	closed    bool
	openFunc  func() (io.Reader, error)
	closeFunc func() error
}

func (rc *lazyReadCloser) Read(p []byte) (int, error) {
	if rc.closed {
		return 0, io.ErrClosedPipe
	}
	if !rc.opened {
		r, err := rc.openFunc()
		if err != nil {
			return 0, err
		}
		rc.r, rc.opened = r, true
	}
	return rc.r.Read(p)
}

func (rc *lazyReadCloser) Close() error {
	if rc.closed {
		return nil
	}
	rc.closed = true
	return rc.closeFunc()
}

// FromDirectory builds a Tree mirroring the contents of a local
// directory, grounded on pkg/vio.FileTreeFromDirectory.
func FromDirectory(dir string) (*Tree, error) {
	t := NewTree()
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(filepath.ToSlash(path), filepath.ToSlash(dir))
		rel = strings.TrimPrefix(rel, "/")
		if rel == "" {
			return nil
		}
		f, err := LazyOpen(path)
		if err != nil {
			return err
		}
		return t.Map(rel, f)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}
