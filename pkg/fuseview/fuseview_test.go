package fuseview

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func timeInPast(d time.Duration) time.Time {
	return time.Now().Add(-d)
}

type fakeSource struct {
	data []byte
}

func (f *fakeSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (f *fakeSource) Size() int64 { return int64(len(f.data)) }
func (f *fakeSource) Close() error { return nil }

func TestSourceReaderReadsSequentially(t *testing.T) {
	src := &fakeSource{data: []byte("0123456789")}
	r := &sourceReader{src: src}

	buf := make([]byte, 4)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Equal(t, "0123", string(buf))

	n, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "4567", string(buf[:n]))
}

func TestSourceReaderSeek(t *testing.T) {
	src := &fakeSource{data: []byte("0123456789")}
	r := &sourceReader{src: src}

	pos, err := r.Seek(3, io.SeekStart)
	require.NoError(t, err)
	require.EqualValues(t, 3, pos)

	buf := make([]byte, 2)
	n, err := r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "34", string(buf[:n]))

	pos, err = r.Seek(-2, io.SeekEnd)
	require.NoError(t, err)
	require.EqualValues(t, 8, pos)

	pos, err = r.Seek(2, io.SeekCurrent)
	require.NoError(t, err)
	require.EqualValues(t, 10, pos)
}

func TestPartitionSegment(t *testing.T) {
	require.Equal(t, "0.0", partitionSegment(0, 0))
	require.Equal(t, "0.2", partitionSegment(0, 2))
}

func TestWbfsIndexDirNaming(t *testing.T) {
	fsys := New(nil, []Slot{{Index: 0, ID6: "ABCDEF", Title: "Some Game"}})
	idByID := &wbfsIndexDir{fs: fsys, byID: true}
	require.Equal(t, "ABCDEF", idByID.name(fsys.slots[0]))

	byTitle := &wbfsIndexDir{fs: fsys, byID: false}
	require.Equal(t, "Some Game [ABCDEF]", byTitle.name(fsys.slots[0]))

	noTitle := &wbfsIndexDir{fs: fsys, byID: false}
	require.Equal(t, "ABCDEF", noTitle.name(Slot{Index: 1, ID6: "ABCDEF"}))
}

func TestSanitizeName(t *testing.T) {
	require.Equal(t, "a_b_c", sanitizeName("a/b/c"))
}

func TestEvictLockedDropsIdleEntries(t *testing.T) {
	fsys := New(nil, nil)
	src := &fakeSource{data: []byte("x")}
	fsys.cache[0] = &cachedDisc{source: src, touched: timeInPast(cacheTimeoutNormal * 2)}

	fsys.mu.Lock()
	fsys.evictLocked()
	fsys.mu.Unlock()

	_, ok := fsys.cache[0]
	require.False(t, ok)
}
