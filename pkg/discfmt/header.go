package discfmt

import (
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// Disc-wide magic values and fixed offsets (spec §3, §6), ported
// verbatim from file-formats.h's WII_MAGIC/GC_MAGIC constants.
const (
	HeaderSize = 0x100

	IDOffset     = 0x00
	IDSize       = 6
	TitleOffset  = 0x20
	TitleSize    = 64
	WiiMagicOff  = 0x18
	GCMagicOff   = 0x1c
	WiiMagic     = 0x5d1c9ea3
	GCMagic      = 0xc2339f3d

	PartTableOffset = 0x40000
	PartTableCount  = 4
	PartTableSize   = 0x20 // 4 * {n_part:u32, off4:u32}

	PartEntrySize = 0x8 // {off4:u32, type:u32}
)

// PartitionType is the 32-bit partition type code from the partition
// table entry.
type PartitionType uint32

// Well-known partition types (spec §3). PartTypeStart has no known
// retail use but is a documented value in the main-partition fallback
// order (spec §4.4).
const (
	PartTypeData    PartitionType = 0
	PartTypeUpdate  PartitionType = 1
	PartTypeChannel PartitionType = 2
	PartTypeStart   PartitionType = 3
)

// Header is a typed view over the disc's first 0x100 bytes.
type Header struct {
	Raw []byte
}

// ParseHeader wraps an existing HeaderSize-byte buffer.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "disc header"}
	}
	return &Header{Raw: b[:HeaderSize]}, nil
}

// ID6 returns the 6-byte disc identifier.
func (h *Header) ID6() string {
	return string(h.Raw[IDOffset : IDOffset+IDSize])
}

// SetID6 overwrites the 6-byte disc identifier.
func (h *Header) SetID6(id string) {
	var b [IDSize]byte
	copy(b[:], id)
	copy(h.Raw[IDOffset:IDOffset+IDSize], b[:])
}

// Title returns the 64-byte (NUL padded) disc title.
func (h *Header) Title() string {
	b := h.Raw[TitleOffset : TitleOffset+TitleSize]
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

// SetTitle overwrites the 64-byte disc title, NUL padding the rest.
func (h *Header) SetTitle(title string) {
	b := h.Raw[TitleOffset : TitleOffset+TitleSize]
	for i := range b {
		b[i] = 0
	}
	copy(b, title)
}

// IsWii reports whether the Wii magic value is present at 0x18.
func (h *Header) IsWii() bool {
	return wbin.U32(h.Raw, WiiMagicOff) == WiiMagic
}

// IsGameCube reports whether the GameCube magic value is present at
// 0x1c. A multi-boot image can have both magics set (spec §3).
func (h *Header) IsGameCube() bool {
	return wbin.U32(h.Raw, GCMagicOff) == GCMagic
}

// PTabInfo describes one of the disc's (up to 4) partition tables.
type PTabInfo struct {
	NPart  uint32
	Offset int64 // byte offset
}

// ParsePTabInfo reads the PartTableSize-byte table-of-tables at
// PartTableOffset.
func ParsePTabInfo(b []byte) ([PartTableCount]PTabInfo, error) {
	var out [PartTableCount]PTabInfo
	if len(b) < PartTableSize {
		return out, &werr.Error{Kind: werr.TooSmall, At: "partition info table"}
	}
	for i := 0; i < PartTableCount; i++ {
		off := i * 8
		out[i] = PTabInfo{
			NPart:  wbin.U32(b, off),
			Offset: wbin.Off4(b, off+4),
		}
	}
	return out, nil
}

// PTabEntry is one {offset, type} pair within a partition table.
type PTabEntry struct {
	Offset int64
	Type   PartitionType
}

// ParsePTabEntry reads a single 8-byte partition table entry.
func ParsePTabEntry(b []byte) PTabEntry {
	return PTabEntry{
		Offset: wbin.Off4(b, 0),
		Type:   PartitionType(wbin.U32(b, 4)),
	}
}
