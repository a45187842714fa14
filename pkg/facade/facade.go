// Package facade implements component C9: normalising every disc
// source this module knows how to read — a plain file, a split file
// set, a WBFS-hosted slot, a CISO container, or a composed virtual
// disc — behind one uniform byte-range Source.
//
// The forward-only streaming adapter (seqSource) that the WBFS slot
// backend needs is grounded on pkg/vdecompiler.partialIO's
// calculateAim/Seek pair: both discard bytes to catch up to a forward
// seek and refuse a backward one, since the wrapped stream (a WBFS
// slot's block stream) cannot rewind cheaply.
package facade

import (
	"fmt"
	"io"

	"github.com/wiidisc/wiidisc/pkg/werr"
)

// Source is the uniform read interface every disc backend satisfies.
type Source interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// plainFile wraps an *os.File (or any ReaderAt+Closer) with a known
// size.
type plainFile struct {
	f    interface {
		io.ReaderAt
		io.Closer
	}
	size int64
}

// FromFile wraps an already-open file-like handle as a Source.
func FromFile(f interface {
	io.ReaderAt
	io.Closer
}, size int64) Source {
	return &plainFile{f: f, size: size}
}

func (p *plainFile) ReadAt(b []byte, off int64) (int, error) { return p.f.ReadAt(b, off) }
func (p *plainFile) Size() int64                             { return p.size }
func (p *plainFile) Close() error                            { return p.f.Close() }

// readerAtSource adapts any io.ReaderAt (e.g. *container.Reader,
// *splitfile.Reader) that already knows its own size into a Source.
type readerAtSource struct {
	r    io.ReaderAt
	size int64
}

// FromReaderAt wraps r, which already supports random access, as a
// Source of the given logical size.
func FromReaderAt(r io.ReaderAt, size int64) Source {
	return &readerAtSource{r: r, size: size}
}

func (s *readerAtSource) ReadAt(b []byte, off int64) (int, error) { return s.r.ReadAt(b, off) }
func (s *readerAtSource) Size() int64                             { return s.size }
func (s *readerAtSource) Close() error                            { return nil }

// seqSource adapts a forward-only io.Reader (such as a WBFS slot's
// block stream) into a Source by
// discarding bytes to catch up to each ReadAt and refusing to rewind.
type seqSource struct {
	r      io.Reader
	size   int64
	cursor int64
	name   string
}

// FromSequential wraps a forward-only reader as a Source. Concurrent
// ReadAt calls are not safe; callers needing concurrent access should
// serialise through a single goroutine or buffer the stream first.
func FromSequential(name string, r io.Reader, size int64) Source {
	return &seqSource{r: r, size: size, name: name}
}

func (s *seqSource) ReadAt(p []byte, off int64) (int, error) {
	if off < s.cursor {
		return 0, fmt.Errorf("facade: %s does not support rewinding (want %d, at %d)", s.name, off, s.cursor)
	}
	if off > s.cursor {
		n, err := io.CopyN(io.Discard, s.r, off-s.cursor)
		s.cursor += n
		if err != nil {
			return 0, werr.Io(fmt.Sprintf("%s seek-skip", s.name), err)
		}
	}
	n, err := io.ReadFull(s.r, p)
	s.cursor += int64(n)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}
	return n, err
}

func (s *seqSource) Size() int64  { return s.size }
func (s *seqSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
