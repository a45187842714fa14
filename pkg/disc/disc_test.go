package disc

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/wbin"
)

// buildFSTEntry packs one raw 12-byte FST record.
func buildFSTEntry(flag discfmt.FSTEntryFlag, nameOff uint32, dataOrNext uint32, size uint32) []byte {
	b := make([]byte, discfmt.FSTEntrySize)
	e := &discfmt.FSTEntry{Raw: b}
	e.Set(flag, nameOff, dataOrNext, size)
	return b
}

func TestParseWireFST(t *testing.T) {
	// Layout: 0=root dir (next=4), 1="sub" dir (next=3), 2="a.bin" file
	// (child of sub), 3="b.bin" file (sibling of sub, child of root).
	strPool := []byte("sub\x00a.bin\x00b.bin\x00")
	var buf bytes.Buffer
	buf.Write(buildFSTEntry(discfmt.FSTDir, 0, 0, 4))
	buf.Write(buildFSTEntry(discfmt.FSTDir, 0, 0, 3))
	buf.Write(buildFSTEntry(discfmt.FSTFile, 4, 0, 100))
	buf.Write(buildFSTEntry(discfmt.FSTFile, 10, 0, 200))
	buf.Write(strPool)

	tree, err := ParseWireFST(buf.Bytes())
	require.NoError(t, err)

	n, err := tree.Lookup("sub/a.bin")
	require.NoError(t, err)
	require.Equal(t, int64(100), n.File.Size())

	n, err = tree.Lookup("b.bin")
	require.NoError(t, err)
	require.Equal(t, int64(200), n.File.Size())
}

func TestOpenRejectsBadMagic(t *testing.T) {
	buf := make([]byte, discfmt.HeaderSize)
	_, err := Open(bytes.NewReader(buf))
	require.Error(t, err)
}

func TestPartitionsParsesTable(t *testing.T) {
	img := make([]byte, discfmt.PartTableOffset+discfmt.PartTableSize+discfmt.PartEntrySize)

	hdr, err := discfmt.ParseHeader(img[:discfmt.HeaderSize])
	require.NoError(t, err)
	wbin.PutU32(hdr.Raw, discfmt.WiiMagicOff, discfmt.WiiMagic)

	// table 0 has 1 entry, located right after the 0x20-byte info table
	ptabOff := int64(discfmt.PartTableOffset + discfmt.PartTableSize)
	wbin.PutU32(img, discfmt.PartTableOffset, 1)
	wbin.PutOff4(img, discfmt.PartTableOffset+4, ptabOff)
	wbin.PutOff4(img, int(ptabOff), 0x40000000) // offset, already /4 via PutOff4
	wbin.PutU32(img, int(ptabOff)+4, uint32(discfmt.PartTypeData))

	d, err := Open(bytes.NewReader(img))
	require.NoError(t, err)

	parts, err := d.Partitions()
	require.NoError(t, err)
	require.Len(t, parts, 1)
	require.Equal(t, discfmt.PartTypeData, parts[0].Type)
}
