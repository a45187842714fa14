package wbfs

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
)

// memDisk is a minimal in-memory io.ReadWriteSeeker over a growable
// byte slice, standing in for a real WBFS partition file in tests.
type memDisk struct {
	buf []byte
	pos int64
}

func newMemDisk(size int64) *memDisk {
	return &memDisk{buf: make([]byte, size)}
}

func (m *memDisk) Read(p []byte) (int, error) {
	if m.pos >= int64(len(m.buf)) {
		return 0, io.EOF
	}
	n := copy(p, m.buf[m.pos:])
	m.pos += int64(n)
	return n, nil
}

func (m *memDisk) Write(p []byte) (int, error) {
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

func (m *memDisk) Seek(offset int64, whence int) (int64, error) {
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

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	disk := newMemDisk(0)
	// 16-byte hd sectors (keeps MaxSlots small: 4 slots), 1 MiB wbfs
	// sectors (a real wiiSectorsPerBlock ratio for the sparsification
	// tests), ~48.8 MiB nominal partition.
	c, err := Create(disk, 3200000, 4, 20)
	require.NoError(t, err)
	return c
}

func TestAddListRemoveDisc(t *testing.T) {
	c := newTestContainer(t)

	data := bytes.Repeat([]byte{0xab}, int(c.wbfsSectorSize())+100)
	require.NoError(t, c.AddDisc("ABCDE1", "Test Disc", bytes.NewReader(data), int64(len(data)), nil))

	slots, err := c.List()
	require.NoError(t, err)
	require.Len(t, slots, 1)
	require.Equal(t, "ABCDE1", slots[0].ID6)
	require.Equal(t, "Test Disc", slots[0].Title)

	require.NoError(t, c.RemoveDisc("ABCDE1"))
	slots, err = c.List()
	require.NoError(t, err)
	require.Len(t, slots, 0)
}

func TestAddDiscRejectsDuplicateID6(t *testing.T) {
	c := newTestContainer(t)
	data := bytes.Repeat([]byte{1}, 100)
	require.NoError(t, c.AddDisc("ABCDE1", "A", bytes.NewReader(data), int64(len(data)), nil))
	err := c.AddDisc("ABCDE1", "B", bytes.NewReader(data), int64(len(data)), nil)
	require.Error(t, err)
}

func TestRenameDisc(t *testing.T) {
	c := newTestContainer(t)
	data := bytes.Repeat([]byte{1}, 100)
	require.NoError(t, c.AddDisc("ABCDE1", "Old", bytes.NewReader(data), int64(len(data)), nil))
	require.NoError(t, c.RenameDisc("ABCDE1", "New"))

	slots, err := c.List()
	require.NoError(t, err)
	require.Equal(t, "New", slots[0].Title)
}

func TestAddDiscSparsifiesUnusedBlocks(t *testing.T) {
	c := newTestContainer(t)

	wiiSectorsPerBlock := int(c.wbfsSectorSize() / discfmt.SectorSize)
	const nBlocks = 4
	discSize := int64(nBlocks) * c.wbfsSectorSize()
	data := bytes.Repeat([]byte{0xcd}, int(discSize))

	used := make([]bool, nBlocks*wiiSectorsPerBlock)
	used[2*wiiSectorsPerBlock] = true // only block 2 carries a used sector besides block 0

	require.NoError(t, c.AddDisc("ABCDE1", "Sparse", bytes.NewReader(data), discSize, used))

	_, di, err := c.findSlotByID6("ABCDE1")
	require.NoError(t, err)
	require.NotZero(t, di.WLBA(0), "block 0 is always allocated")
	require.Zero(t, di.WLBA(1), "unused block must stay a hole")
	require.NotZero(t, di.WLBA(2))
	require.Zero(t, di.WLBA(3), "unused block must stay a hole")

	require.Len(t, di.UsedBlocks(), 2)

	rep, err := c.Check()
	require.NoError(t, err)
	require.False(t, rep.MismatchedFBT)
	require.Empty(t, rep.LeakedBlocks)
}

func TestCheckFindsNoIssuesOnFreshContainer(t *testing.T) {
	c := newTestContainer(t)
	data := bytes.Repeat([]byte{1}, int(c.wbfsSectorSize())*2)
	require.NoError(t, c.AddDisc("ABCDE1", "A", bytes.NewReader(data), int64(len(data)), nil))

	rep, err := c.Check()
	require.NoError(t, err)
	require.False(t, rep.MismatchedFBT)
	require.Empty(t, rep.DoubleAllocated)
	require.Empty(t, rep.LeakedBlocks)
}

func TestRepairFixesLeakedBlocks(t *testing.T) {
	c := newTestContainer(t)
	data := bytes.Repeat([]byte{1}, int(c.wbfsSectorSize()))
	require.NoError(t, c.AddDisc("ABCDE1", "A", bytes.NewReader(data), int64(len(data)), nil))

	// simulate a leak: mark an extra block used that no disc owns.
	leaked, ok := c.fbt.FindFree(PolicyFirst, -1)
	require.True(t, ok)
	c.fbt.Alloc(leaked)
	require.NoError(t, c.writeFBT())

	rep, err := c.Check()
	require.NoError(t, err)
	require.Contains(t, rep.LeakedBlocks, leaked)

	_, err = c.Repair()
	require.NoError(t, err)

	rep, err = c.Check()
	require.NoError(t, err)
	require.Empty(t, rep.LeakedBlocks)
}
