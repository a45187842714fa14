package container

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

// memBuf is a minimal in-memory io.ReadWriteSeeker, standing in for a
// container file on disk.
type memBuf struct {
	buf []byte
	pos int64
}

func (m *memBuf) Write(p []byte) (int, error) {
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

func (m *memBuf) Seek(offset int64, whence int) (int64, error) {
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

func (m *memBuf) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func TestWriteReadRoundTripSkipsHoles(t *testing.T) {
	const blockSize = 0x1000
	mb := &memBuf{}
	w, err := NewWriter(mb, blockSize, BlockSizePow2)
	require.NoError(t, err)

	present := bytes.Repeat([]byte{0x42}, blockSize)
	hole := make([]byte, blockSize)

	require.NoError(t, w.WriteBlock(present))
	require.NoError(t, w.WriteBlock(hole))
	require.NoError(t, w.WriteBlock(present))
	require.NoError(t, w.Close())

	// the hole block must not have consumed space in the backing buffer.
	require.Equal(t, int64(HeaderSize+2*blockSize), int64(len(mb.buf)))

	r, err := NewReader(mb)
	require.NoError(t, err)

	out := make([]byte, blockSize)
	require.NoError(t, r.ReadBlock(0, out))
	require.Equal(t, present, out)

	require.NoError(t, r.ReadBlock(1, out))
	require.Equal(t, hole, out)

	require.NoError(t, r.ReadBlock(2, out))
	require.Equal(t, present, out)
}

func TestNewWriterRejectsNonPowerOfTwo(t *testing.T) {
	mb := &memBuf{}
	_, err := NewWriter(mb, 0x1234, BlockSizePow2)
	require.Error(t, err)
}

func TestNewWriterAllowsAnyBlockSizeUnderAnyPolicy(t *testing.T) {
	mb := &memBuf{}
	_, err := NewWriter(mb, 0x1234, BlockSizeAny)
	require.NoError(t, err)
}

func TestReadAtSpansMultipleBlocks(t *testing.T) {
	const blockSize = 0x10
	mb := &memBuf{}
	w, err := NewWriter(mb, blockSize, BlockSizePow2)
	require.NoError(t, err)

	b0 := bytes.Repeat([]byte{1}, blockSize)
	b1 := bytes.Repeat([]byte{2}, blockSize)
	require.NoError(t, w.WriteBlock(b0))
	require.NoError(t, w.WriteBlock(b1))
	require.NoError(t, w.Close())

	r, err := NewReader(mb)
	require.NoError(t, err)

	out := make([]byte, blockSize+4)
	n, err := r.ReadAt(out, blockSize-4)
	require.NoError(t, err)
	require.Equal(t, len(out), n)
	require.Equal(t, bytes.Repeat([]byte{1}, 4), out[:4])
	require.Equal(t, bytes.Repeat([]byte{2}, blockSize), out[4:])
}

func TestNoneCodecRoundTrip(t *testing.T) {
	c := NoneCodec{}
	raw := []byte("hello wbfs")
	enc, err := c.Encode(raw)
	require.NoError(t, err)
	dec, err := c.Decode(enc, len(raw))
	require.NoError(t, err)
	require.Equal(t, raw, dec)
}

func TestZstdCodecRoundTrip(t *testing.T) {
	c, err := NewZstdCodec(3)
	require.NoError(t, err)
	defer c.Close()

	raw := bytes.Repeat([]byte("wiidisc"), 256)
	enc, err := c.Encode(raw)
	require.NoError(t, err)
	require.Less(t, len(enc), len(raw))

	dec, err := c.Decode(enc, len(raw))
	require.NoError(t, err)
	require.Equal(t, raw, dec)
}
