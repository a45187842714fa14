package memmap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAndFind(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(0, 0x100, "header"))
	require.NoError(t, m.Insert(0x100, 0x200, "fst"))

	it, ok := m.Find(0x150)
	require.True(t, ok)
	require.Equal(t, "fst", it.Source)

	_, ok = m.Find(0x300)
	require.False(t, ok)
}

func TestInsertRejectsOverlap(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(0, 0x100, "a"))
	require.Error(t, m.Insert(0x50, 0x10, "b"))
}

func TestFindFree(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(0, 0x10, "a"))
	require.NoError(t, m.Insert(0x20, 0x10, "b"))

	off, ok := m.FindFree(0, 0x8, 0x100)
	require.True(t, ok)
	require.Equal(t, int64(0x10), off)

	_, ok = m.FindFree(0, 0x200, 0x100)
	require.False(t, ok)
}

func TestInsertTieZeroSizeMarker(t *testing.T) {
	m := New()
	require.NoError(t, m.Insert(0, 0x10, "a"))
	require.NoError(t, m.InsertTie(0x10, 0, "end-marker"))
	require.Equal(t, 2, m.Len())
}
