package splitfile

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type memSeg struct {
	buf []byte
	pos int64
}

func (m *memSeg) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memSeg) Write(p []byte) (int, error) {
	end := m.pos + int64(len(p))
	if end > int64(len(m.buf)) {
		grown := make([]byte, end)
		copy(grown, m.buf)
		m.buf = grown
	}
	n := copy(m.buf[m.pos:end], p)
	m.pos += int64(n)
	return n, nil
}

func (m *memSeg) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		m.pos = offset
	case io.SeekCurrent:
		m.pos += offset
	case io.SeekEnd:
		m.pos = int64(len(m.buf)) + offset
	}
	return m.pos, nil
}

func newMemSet() (Opener, *[]*memSeg) {
	segs := []*memSeg{}
	open := func(index int) (io.ReadWriteSeeker, error) {
		for len(segs) <= index {
			segs = append(segs, &memSeg{})
		}
		return segs[index], nil
	}
	return open, &segs
}

func TestWriteReadRoundTripAcrossSegments(t *testing.T) {
	const splitSize = 100
	open, segs := newMemSet()

	w := NewWriter(open, splitSize)
	data := bytes.Repeat([]byte{0x5a}, 250)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Finish())

	require.Len(t, *segs, 3)
	require.Len(t, (*segs)[0].buf, 100)
	require.Len(t, (*segs)[1].buf, 100)
	require.Len(t, (*segs)[2].buf, 50)

	r := NewReader(open, splitSize, int64(len(data)))
	out := make([]byte, len(data))
	_, err = io.ReadFull(r, out)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestWriteExactBoundaryCreatesTrailingEmptySegment(t *testing.T) {
	const splitSize = 100
	open, segs := newMemSet()

	w := NewWriter(open, splitSize)
	data := bytes.Repeat([]byte{1}, 200)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Finish())

	require.Len(t, *segs, 3)
	require.Empty(t, (*segs)[2].buf)
}

func TestSegmentCountMatchesWriterBehaviour(t *testing.T) {
	require.Equal(t, 1, SegmentCount(50, 100))
	require.Equal(t, 2, SegmentCount(100, 100))
	require.Equal(t, 3, SegmentCount(250, 100))
}

func TestReadAtRandomAccess(t *testing.T) {
	const splitSize = 16
	open, _ := newMemSet()
	w := NewWriter(open, splitSize)
	data := make([]byte, 40)
	for i := range data {
		data[i] = byte(i)
	}
	_, err := w.Write(data)
	require.NoError(t, err)

	r := NewReader(open, splitSize, int64(len(data)))
	buf := make([]byte, 10)
	n, err := r.ReadAt(buf, 12)
	require.NoError(t, err)
	require.Equal(t, 10, n)
	require.Equal(t, data[12:22], buf)
}
