package facade

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

type memReaderAt struct {
	buf []byte
}

func (m *memReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memReaderAt) Close() error { return nil }

func TestFromReaderAtServesRandomAccess(t *testing.T) {
	data := bytes.Repeat([]byte{7}, 64)
	src := FromReaderAt(&memReaderAt{buf: data}, int64(len(data)))
	require.Equal(t, int64(64), src.Size())

	out := make([]byte, 8)
	n, err := src.ReadAt(out, 16)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, data[16:24], out)
}

func TestFromSequentialForwardRead(t *testing.T) {
	data := []byte("0123456789")
	src := FromSequential("test", bytes.NewReader(data), int64(len(data)))

	out := make([]byte, 4)
	n, err := src.ReadAt(out, 3)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, []byte("3456"), out)

	out2 := make([]byte, 3)
	n, err = src.ReadAt(out2, 7)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, []byte("789"), out2)
}

func TestFromSequentialRejectsRewind(t *testing.T) {
	data := []byte("0123456789")
	src := FromSequential("test", bytes.NewReader(data), int64(len(data)))

	out := make([]byte, 4)
	_, err := src.ReadAt(out, 6)
	require.NoError(t, err)

	_, err = src.ReadAt(out, 2)
	require.Error(t, err)
}

func TestFromFileWrapsReaderAtAndCloser(t *testing.T) {
	data := bytes.Repeat([]byte{9}, 16)
	handle := &memReaderAt{buf: data}
	src := FromFile(handle, int64(len(data)))
	require.Equal(t, int64(16), src.Size())
	require.NoError(t, src.Close())
}
