package discfmt

import (
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// FSTEntrySize is the fixed size of a single wd_fst_item_t record
// (spec §3, §6): a flag byte packed into the high byte of the name
// offset word, then data offset/4 and size.
const FSTEntrySize = 12

// FSTEntryFlag distinguishes file and directory entries.
type FSTEntryFlag byte

const (
	FSTFile FSTEntryFlag = 0
	FSTDir  FSTEntryFlag = 1
)

// FSTEntry is a typed view over one 12-byte FST record.
type FSTEntry struct {
	Raw []byte
}

// ParseFSTEntry wraps an existing 12-byte buffer.
func ParseFSTEntry(b []byte) (*FSTEntry, error) {
	if len(b) < FSTEntrySize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "fst entry"}
	}
	return &FSTEntry{Raw: b[:FSTEntrySize]}, nil
}

// Flag returns whether this entry describes a file or a directory.
func (e *FSTEntry) Flag() FSTEntryFlag {
	return FSTEntryFlag(e.Raw[0])
}

// NameOffset returns the entry's offset into the trailing string pool.
func (e *FSTEntry) NameOffset() uint32 {
	return wbin.U32(e.Raw, 0) & 0x00ffffff
}

// DataOffset returns, for a file, the byte offset of its contents
// (data_off4 * 4). For a directory this field has no meaning per
// spec §3.
func (e *FSTEntry) DataOffset() int64 {
	return wbin.Off4(e.Raw, 4)
}

// Size returns, for a file, its byte size; for a directory, the index
// of its next-sibling entry (spec §3).
func (e *FSTEntry) Size() uint32 {
	return wbin.U32(e.Raw, 8)
}

// Set packs flag, nameOffset, dataOff4 (for a file, its data offset
// already divided by 4) and size (a file's byte size; a directory's
// next-sibling index, not divided) into the entry.
func (e *FSTEntry) Set(flag FSTEntryFlag, nameOffset uint32, dataOff4 uint32, size uint32) {
	wbin.PutU32(e.Raw, 0, uint32(flag)<<24|(nameOffset&0x00ffffff))
	wbin.PutU32(e.Raw, 4, dataOff4)
	wbin.PutU32(e.Raw, 8, size)
}
