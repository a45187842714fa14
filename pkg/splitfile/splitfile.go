// Package splitfile implements the split-file sub-format of the
// read-through facade (spec §4.8): a disc image stored as a sequence
// of fixed-size numbered files, `(file_index, in_file_off) =
// offset ÷ split_size`.
//
// The segment-boundary bookkeeping (how much room is left in the
// current segment, when to roll to the next one) is grounded on
// pkg/xva.Writer's mib-chunk splitting in its Write method: that writer
// buffers up to one chunk, flushes a tar entry per chunk, and repeats.
// Split files need no buffering or per-chunk framing, only the same
// "how far to the boundary" arithmetic, applied directly against a
// sequence of real files instead of tar entries.
package splitfile

import (
	"fmt"
	"io"

	"github.com/wiidisc/wiidisc/pkg/werr"
)

// DefaultSplitSize is the conventional split boundary: 4 GiB minus
// 32 KiB, chosen so a FAT32-hosted split set never lands a segment
// exactly on the filesystem's 4 GiB file-size ceiling.
const DefaultSplitSize int64 = 4*1024*1024*1024 - 32*1024

// Opener creates or opens the i'th segment (0-based) of a split set.
// Writers use it to create segments lazily as they are needed; readers
// use it to open each segment on first access.
type Opener func(index int) (io.ReadWriteSeeker, error)

// locate computes which segment holds byte offset off and the
// in-segment offset within it.
func locate(off, splitSize int64) (index int, inOff int64) {
	return int(off / splitSize), off % splitSize
}

// Reader streams a split file set as one continuous byte stream,
// opening each segment only when the read cursor reaches it.
type Reader struct {
	open      Opener
	splitSize int64
	totalSize int64

	cur    int
	handle io.ReadWriteSeeker
	pos    int64 // logical offset into the whole stream
}

// NewReader returns a Reader over a split set of the given total
// logical size.
func NewReader(open Opener, splitSize, totalSize int64) *Reader {
	if splitSize <= 0 {
		splitSize = DefaultSplitSize
	}
	return &Reader{open: open, splitSize: splitSize, totalSize: totalSize, cur: -1}
}

func (r *Reader) ensureSegment(index int) error {
	if r.cur == index && r.handle != nil {
		return nil
	}
	h, err := r.open(index)
	if err != nil {
		return werr.Io(fmt.Sprintf("split segment %d", index), err)
	}
	r.handle = h
	r.cur = index
	return nil
}

// ReadAt implements io.ReaderAt over the logical split-file stream,
// advancing across segment boundaries transparently.
func (r *Reader) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	for n < len(p) {
		if off+int64(n) >= r.totalSize {
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		idx, inOff := locate(off+int64(n), r.splitSize)
		if err := r.ensureSegment(idx); err != nil {
			return n, err
		}
		if _, err := r.handle.Seek(inOff, io.SeekStart); err != nil {
			return n, werr.Io(fmt.Sprintf("split segment %d seek", idx), err)
		}
		segSpace := r.splitSize - inOff
		want := int64(len(p) - n)
		if want > segSpace {
			want = segSpace
		}
		k, err := io.ReadFull(r.handle, p[n:int64(n)+want])
		n += k
		if err != nil {
			return n, werr.Io(fmt.Sprintf("split segment %d read", idx), err)
		}
	}
	return n, nil
}

// Read implements io.Reader, advancing the Reader's own cursor.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := r.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

// Writer streams a disc image out across a split file set, creating
// each segment via Opener as the write cursor reaches it and always
// creating the final (possibly empty) trailing segment, matching the
// original tool's observed split-count behaviour (spec §9).
type Writer struct {
	open      Opener
	splitSize int64

	cur    int
	handle io.ReadWriteSeeker
	pos    int64 // offset within the current segment
}

// NewWriter returns a Writer that creates segments on demand.
func NewWriter(open Opener, splitSize int64) *Writer {
	if splitSize <= 0 {
		splitSize = DefaultSplitSize
	}
	return &Writer{open: open, splitSize: splitSize, cur: -1}
}

func (w *Writer) rollTo(index int) error {
	h, err := w.open(index)
	if err != nil {
		return werr.Io(fmt.Sprintf("split segment %d create", index), err)
	}
	w.handle = h
	w.cur = index
	w.pos = 0
	return nil
}

// Write implements io.Writer, splitting p across as many segments as
// needed.
func (w *Writer) Write(p []byte) (int, error) {
	if w.cur < 0 {
		if err := w.rollTo(0); err != nil {
			return 0, err
		}
	}
	n := 0
	for n < len(p) {
		segSpace := w.splitSize - w.pos
		chunk := p[n:]
		if int64(len(chunk)) > segSpace {
			chunk = chunk[:segSpace]
		}
		k, err := w.handle.Write(chunk)
		n += k
		w.pos += int64(k)
		if err != nil {
			return n, werr.Io(fmt.Sprintf("split segment %d write", w.cur), err)
		}
		if w.pos == w.splitSize && n < len(p) {
			if err := w.rollTo(w.cur + 1); err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// Finish creates the trailing empty segment the original tool always
// leaves behind when a write lands exactly on a split boundary, so a
// reader built from the same split_size sees the expected segment
// count.
func (w *Writer) Finish() error {
	if w.pos == w.splitSize {
		return w.rollTo(w.cur + 1)
	}
	return nil
}

// SegmentCount returns how many segments totalSize requires under
// splitSize, including a trailing empty segment when totalSize is an
// exact multiple of splitSize (matching Finish's behaviour).
func SegmentCount(totalSize, splitSize int64) int {
	if splitSize <= 0 {
		splitSize = DefaultSplitSize
	}
	// floor(totalSize/splitSize) full segments plus one more: either a
	// partial final segment, or, when totalSize lands exactly on a
	// boundary, the trailing empty segment Finish creates.
	return int(totalSize/splitSize) + 1
}
