// Package container implements the CISO sparse-block container used to
// store a disc image with unused ("hole") blocks omitted, plus a
// compression-codec contract (CompressionCodec). The CISO Writer and
// Reader store blocks uncompressed and do not apply a codec.
//
// The block-present-bitmap design is grounded on the BAT (block
// allocation table) scheme in pkg/vhd/dynamic.go's DynamicWriter: both
// formats break a large image into fixed-size chunks and track, out of
// band, which chunks actually hold data versus which are implicit
// holes. CISO differs only in using a flat present/absent bitmap
// instead of a sector-offset table.
package container

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wiidisc/wiidisc/pkg/werr"
)

const (
	Magic             = "CISO"
	HeaderSize        = 0x8000
	MaxBlocks         = HeaderSize - 8
	DefaultBlockSize  = 0x8000
)

// BlockSizePolicy controls what block sizes Writer accepts (spec Open
// Question "CISO CHUNK_MODE=ANY"): the original tool's default build
// requires a power-of-two block size so block index arithmetic can use
// a shift; a CHUNK_MODE=ANY build relaxes that. We default to requiring
// a power of two and expose BlockSizeAny for callers who need the
// relaxed behaviour.
type BlockSizePolicy int

const (
	BlockSizePow2 BlockSizePolicy = iota
	BlockSizeAny
)

// Header is a typed view over a CISO container's 0x8000-byte header:
// magic, block size, and a present/absent bitmap (one byte per
// possible block, nonzero meaning present).
type Header struct {
	Raw []byte
}

// ParseHeader validates and wraps an existing HeaderSize-byte buffer.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "ciso header"}
	}
	if string(b[0:4]) != Magic {
		return nil, &werr.Error{Kind: werr.BadFormat, At: "ciso header"}
	}
	return &Header{Raw: b[:HeaderSize]}, nil
}

// InitHeader stamps a fresh CISO header with the given block size into
// b; every block starts out marked absent.
func InitHeader(b []byte, blockSize uint32) *Header {
	copy(b[0:4], Magic)
	binary.LittleEndian.PutUint32(b[4:8], blockSize)
	return &Header{Raw: b[:HeaderSize]}
}

// BlockSize returns the container's block size in bytes.
func (h *Header) BlockSize() uint32 {
	return binary.LittleEndian.Uint32(h.Raw[4:8])
}

// IsPresent reports whether block i holds data in the container.
func (h *Header) IsPresent(i int) bool {
	return h.Raw[8+i] != 0
}

// SetPresent marks block i as present or absent.
func (h *Header) SetPresent(i int, present bool) {
	if present {
		h.Raw[8+i] = 1
	} else {
		h.Raw[8+i] = 0
	}
}

// Writer streams a raw disc image into a CISO container, omitting
// all-zero blocks.
type Writer struct {
	w         io.WriteSeeker
	header    *Header
	blockSize int64
	policy    BlockSizePolicy
	nextBlock int
	written   int64 // bytes written to w so far, following present blocks only
}

// NewWriter writes a fresh CISO header to w and returns a Writer ready
// to accept sequential raw blocks via WriteBlock.
func NewWriter(w io.WriteSeeker, blockSize uint32, policy BlockSizePolicy) (*Writer, error) {
	if policy == BlockSizePow2 {
		if blockSize == 0 || blockSize&(blockSize-1) != 0 {
			return nil, &werr.Error{Kind: werr.InvalidLayout, At: "ciso block size", Err: fmt.Errorf("%d is not a power of two", blockSize)}
		}
	}
	buf := make([]byte, HeaderSize)
	h := InitHeader(buf, blockSize)
	if _, err := w.Seek(0, io.SeekStart); err != nil {
		return nil, werr.Io("ciso header seek", err)
	}
	if _, err := w.Write(buf); err != nil {
		return nil, werr.Io("ciso header write", err)
	}
	return &Writer{w: w, header: h, blockSize: int64(blockSize), policy: policy, written: HeaderSize}, nil
}

// WriteBlock appends one raw block. A block consisting entirely of
// zero bytes is recorded as absent and not written to w, so the
// container stays sparse.
func (cw *Writer) WriteBlock(block []byte) error {
	if cw.nextBlock >= MaxBlocks {
		return &werr.Error{Kind: werr.InvalidLayout, At: "ciso block index", Err: fmt.Errorf("exceeds %d blocks", MaxBlocks)}
	}
	present := !isAllZero(block)
	cw.header.SetPresent(cw.nextBlock, present)
	if present {
		if _, err := cw.w.Write(block); err != nil {
			return werr.Io("ciso block write", err)
		}
		cw.written += int64(len(block))
	}
	cw.nextBlock++
	return nil
}

// Close flushes the final header (with its present bitmap) back to the
// start of w.
func (cw *Writer) Close() error {
	if _, err := cw.w.Seek(0, io.SeekStart); err != nil {
		return werr.Io("ciso header seek", err)
	}
	if _, err := cw.w.Write(cw.header.Raw); err != nil {
		return werr.Io("ciso header write", err)
	}
	return nil
}

func isAllZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

// Reader provides random-access reads over a CISO container, treating
// absent blocks as all-zero.
type Reader struct {
	r         io.ReaderAt
	header    *Header
	blockSize int64
	// offsets[i] is the byte offset within r of block i's data, or -1
	// if the block is absent; computed once from the present bitmap.
	offsets []int64
}

// NewReader parses the header at the start of r (which must also
// support ReadAt over the whole container) and precomputes block
// offsets.
func NewReader(r io.ReaderAt) (*Reader, error) {
	buf := make([]byte, HeaderSize)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, werr.Io("ciso header read", err)
	}
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	cr := &Reader{r: r, header: h, blockSize: int64(h.BlockSize())}
	off := int64(HeaderSize)
	cr.offsets = make([]int64, MaxBlocks)
	for i := 0; i < MaxBlocks; i++ {
		if h.IsPresent(i) {
			cr.offsets[i] = off
			off += cr.blockSize
		} else {
			cr.offsets[i] = -1
		}
	}
	return cr, nil
}

// BlockSize returns the container's block size.
func (cr *Reader) BlockSize() int64 { return cr.blockSize }

// ReadBlock reads the logical block i into out (len(out) must equal
// BlockSize()), zero-filling it if the block is absent.
func (cr *Reader) ReadBlock(i int, out []byte) error {
	if i < 0 || i >= len(cr.offsets) {
		return &werr.Error{Kind: werr.InvalidLayout, At: "ciso block index"}
	}
	off := cr.offsets[i]
	if off < 0 {
		for j := range out {
			out[j] = 0
		}
		return nil
	}
	if _, err := cr.r.ReadAt(out, off); err != nil {
		return werr.Io("ciso block read", err)
	}
	return nil
}

// ReadAt implements io.ReaderAt over the logical (unpacked) image,
// resolving each byte range to its containing block(s).
func (cr *Reader) ReadAt(p []byte, off int64) (int, error) {
	n := 0
	block := make([]byte, cr.blockSize)
	for n < len(p) {
		idx := int((off + int64(n)) / cr.blockSize)
		blockOff := (off + int64(n)) % cr.blockSize
		if err := cr.ReadBlock(idx, block); err != nil {
			return n, err
		}
		k := copy(p[n:], block[blockOff:])
		n += k
	}
	return n, nil
}
