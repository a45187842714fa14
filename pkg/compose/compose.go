// Package compose implements component C6: building a virtual Wii
// partition image from a directory tree (sys/boot.bin, sys/bi2.bin,
// sys/apploader.img, sys/main.dol, files/…) without ever materialising
// the whole disc in memory.
//
// The "place each input at a computed offset, record it in a sorted
// map, answer reads by looking the offset up in that map" shape is
// grounded on pkg/vimg's Builder: builder.go drives the same two-pass
// layout-then-stream process (partitions.go/os.go/root.go each append
// their section to the builder's own offset bookkeeping) that this
// package adapts to Wii partition layout instead of a GPT disk image.
package compose

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/fst"
	"github.com/wiidisc/wiidisc/pkg/memmap"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// SourceKind tags what kind of backing a mapping item has. Only two
// kinds exist: in-memory bytes and a file from the tree; there is no
// kind for an ID, a split file set or another disc's partition.
type SourceKind int

const (
	SourceRawBytes SourceKind = iota
	SourceFile
)

// ItemSource is stored in a memmap.Item's Source field for every entry
// this package inserts.
type ItemSource struct {
	Kind  SourceKind
	Bytes []byte   // valid when Kind == SourceRawBytes
	File  fst.File // valid when Kind == SourceFile
}

// DefaultPartitionOffset is where the composer places the (only)
// partition header on a freshly composed disc, matching the original
// tool's default layout for a single-data-partition disc.
const DefaultPartitionOffset int64 = 0xF800000

const fileAlign = 4
const defaultFileAlign32K = 0x8000

// Layout is the in-memory result of composing a directory into a
// virtual partition: a sorted mapping from virtual (partition-local)
// offset to the bytes that live there, plus the pieces needed to patch
// boot.bin/fst.bin once every offset is known.
type Layout struct {
	Map             *memmap.Map
	Tree            *fst.Tree
	PartitionOffset int64
	DataSize        int64

	boot []byte
	fst  []byte

	// fileCursors tracks, per file-backed item offset, how many bytes
	// have been consumed from its fst.File so far. File sources only
	// support forward streaming (fst.LazyOpen wraps a plain os.File
	// reader), so a ReadAt that lands ahead of the cursor discards the
	// gap instead of reopening the file, the same forward-only
	// contract pkg/disc.decryptedReader relies on.
	fileCursors map[int64]int64
}

// BuildFromDirectory lays out a partition from dir's conventional
// sub-tree (spec §4.6). align32K enables the optional 32 KiB file
// alignment instead of the default 4-byte alignment.
func BuildFromDirectory(dir string, align32K bool) (*Layout, error) {
	boot, err := os.ReadFile(filepath.Join(dir, "sys", "boot.bin"))
	if err != nil {
		return nil, werr.Io("read sys/boot.bin", err)
	}
	if len(boot) < discfmt.BootSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "sys/boot.bin"}
	}
	bi2, err := os.ReadFile(filepath.Join(dir, "sys", "bi2.bin"))
	if err != nil {
		return nil, werr.Io("read sys/bi2.bin", err)
	}
	apploader, err := os.ReadFile(filepath.Join(dir, "sys", "apploader.img"))
	if err != nil {
		return nil, werr.Io("read sys/apploader.img", err)
	}
	dol, err := os.ReadFile(filepath.Join(dir, "sys", "main.dol"))
	if err != nil {
		return nil, werr.Io("read sys/main.dol", err)
	}

	tree, err := fst.FromDirectory(filepath.Join(dir, "files"))
	if err != nil {
		return nil, err
	}

	l := &Layout{Map: memmap.New(), Tree: tree, PartitionOffset: DefaultPartitionOffset}

	cursor := int64(0)
	put := func(size int64, b []byte) (int64, error) {
		off := cursor
		if err := l.Map.Insert(off, size, ItemSource{Kind: SourceRawBytes, Bytes: b}); err != nil {
			return 0, err
		}
		cursor += size
		return off, nil
	}

	// 0x0000: boot.bin (disc header + dol/fst offsets, patched below).
	if _, err := put(discfmt.BootSize, boot[:discfmt.BootSize]); err != nil {
		return nil, err
	}
	// 0x0440: bi2.bin, fixed 0x2000 bytes per spec §6.
	cursor = 0x440
	if _, err := put(0x2000, padTo(bi2, 0x2000)); err != nil {
		return nil, err
	}
	// 0x2440: apploader.
	cursor = 0x2440
	apploaderOff, err := put(int64(len(apploader)), apploader)
	if err != nil {
		return nil, err
	}

	// main.dol, 4-byte (or 32 KiB) aligned after the apploader.
	align := int64(fileAlign)
	if align32K {
		align = defaultFileAlign32K
	}
	cursor = alignUp(apploaderOff+int64(len(apploader)), align)
	dolOff, err := put(int64(len(dol)), dol)
	if err != nil {
		return nil, err
	}

	// files/, each 4-byte (or 32 KiB) aligned, data offsets recorded
	// onto the tree's flattened entries once assigned.
	cursor = alignUp(dolOff+int64(len(dol)), align)
	flat := tree.Flatten()
	dataOffs := make([]int64, len(flat))
	it := fst.NewIterator(tree)
	// consume the root event, which Flatten/iteration both treat as
	// index -1 and never emit into flat[].
	if _, ok := it.Next(); !ok {
		return nil, fmt.Errorf("compose: empty directory tree")
	}
	i := 0
	for {
		ev, ok := it.Next()
		if !ok {
			break
		}
		if ev.Kind == discfmt.FSTDir {
			i++
			continue
		}
		node, err := tree.Lookup(ev.Path)
		if err != nil {
			return nil, err
		}
		cursor = alignUp(cursor, align)
		off := cursor
		if err := l.Map.Insert(off, node.File.Size(), ItemSource{Kind: SourceFile, File: node.File}); err != nil {
			return nil, err
		}
		dataOffs[i] = off
		cursor = off + node.File.Size()
		i++
	}

	// fst.bin, 4-byte (or 32 KiB) aligned after the last file.
	cursor = alignUp(cursor, align)
	fstBytes := encodeFST(flat, dataOffs)
	fstOff, err := put(int64(len(fstBytes)), fstBytes)
	if err != nil {
		return nil, err
	}

	bootView, err := discfmt.ParseBoot(boot)
	if err != nil {
		return nil, err
	}
	bootView.SetDolOffset(dolOff)
	bootView.SetFSTOffset(fstOff)
	bootView.SetFSTSize(int64(len(fstBytes)))
	bootView.SetMaxFSTSize(int64(len(fstBytes)))

	l.DataSize = fstOff + int64(len(fstBytes))
	l.boot = boot
	l.fst = fstBytes
	l.fileCursors = make(map[int64]int64)
	return l, nil
}

// ReadAt answers a byte-range read against the composed layout,
// binary-searching the mapping and, for file-backed entries, streaming
// from the underlying fst.File.
//
// Random access within a single file item is supported only in the
// forward direction, since file sources are deferred io.Reader opens
// (fst.LazyOpen), not ReaderAt; the CLI's group-by-group write path
// (spec §4.6 "iterate 2-MiB groups") only ever reads forward, so this
// is not a practical restriction for the composer's own writer.
func (l *Layout) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		item, ok := l.Map.Find(off + int64(n))
		if !ok {
			// a gap between items reads as zero, matching the
			// composer's pre-zeroed group buffers.
			p[n] = 0
			n++
			continue
		}
		src := item.Source.(ItemSource)
		inItemOff := off + int64(n) - item.Offset
		want := item.Size - inItemOff
		if want > int64(len(p)-n) {
			want = int64(len(p) - n)
		}
		switch src.Kind {
		case SourceRawBytes:
			copy(p[n:int64(n)+want], src.Bytes[inItemOff:inItemOff+want])
		case SourceFile:
			if err := l.readFile(item.Offset, src.File, p[n:int64(n)+want], inItemOff); err != nil {
				return n, err
			}
		}
		n += int(want)
	}
	return n, nil
}

func (l *Layout) readFile(itemOffset int64, f fst.File, out []byte, inItemOff int64) error {
	cursor := l.fileCursors[itemOffset]
	if inItemOff < cursor {
		return fmt.Errorf("compose: file %q does not support rewinding", f.Name())
	}
	if inItemOff > cursor {
		if _, err := io.CopyN(io.Discard, readerFunc(f.Read), inItemOff-cursor); err != nil {
			return werr.Io("compose file skip", err)
		}
		cursor = inItemOff
	}
	n, err := io.ReadFull(readerFunc(f.Read), out)
	cursor += int64(n)
	l.fileCursors[itemOffset] = cursor
	if err != nil && err != io.ErrUnexpectedEOF {
		return werr.Io(fmt.Sprintf("compose file %q read", f.Name()), err)
	}
	return nil
}

// readerFunc adapts a bare Read method value to io.Reader.
type readerFunc func(p []byte) (int, error)

func (r readerFunc) Read(p []byte) (int, error) { return r(p) }

// encodeFST serialises flat (as produced by fst.Tree.Flatten, in FST
// order) plus each file entry's already-assigned data offset into the
// wire fst.bin layout: a root entry, one entry per flat[i], then a
// NUL-separated string pool (spec §3/§6).
func encodeFST(flat []fst.FlattenedEntry, dataOffs []int64) []byte {
	n := len(flat) + 1
	records := make([]byte, n*discfmt.FSTEntrySize)
	var pool []byte

	root, _ := discfmt.ParseFSTEntry(records[0:discfmt.FSTEntrySize])
	root.Set(discfmt.FSTDir, 0, 0, uint32(n))

	for i, e := range flat {
		nameOff := uint32(len(pool))
		pool = append(pool, []byte(e.Name)...)
		pool = append(pool, 0)

		rec, _ := discfmt.ParseFSTEntry(records[(i+1)*discfmt.FSTEntrySize : (i+2)*discfmt.FSTEntrySize])
		if e.Flag == discfmt.FSTDir {
			rec.Set(discfmt.FSTDir, nameOff, 0, uint32(e.Size))
		} else {
			rec.Set(discfmt.FSTFile, nameOff, uint32(dataOffs[i]/4), uint32(e.Size))
		}
	}

	return append(records, pool...)
}

func padTo(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}
