package wbfs

import (
	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// DiscInfo is a typed view over one slot's disc-info block: a copy of
// the disc's first 0x100 bytes (id6/title, used for fast listing
// without touching the WLBA-mapped data) followed by the WLBA table
// (wbfs_disc_info_t in the original format).
type DiscInfo struct {
	Raw           []byte
	BlocksPerDisc int // number of WLBA table entries (wbfs_blocks_per_disc)
}

// DiscInfoSize returns the byte size of a disc-info block with the
// given number of WLBA entries. The result is not rounded up to the
// WBFS sector size.
func DiscInfoSize(blocksPerDisc int) int {
	return DiscInfoHeaderSize + blocksPerDisc*2
}

// ParseDiscInfo wraps an existing buffer of at least
// DiscInfoSize(blocksPerDisc) bytes.
func ParseDiscInfo(b []byte, blocksPerDisc int) (*DiscInfo, error) {
	if len(b) < DiscInfoSize(blocksPerDisc) {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "disc info"}
	}
	return &DiscInfo{Raw: b, BlocksPerDisc: blocksPerDisc}, nil
}

// InitDiscInfo stamps a fresh disc-info block's embedded header.
func InitDiscInfo(b []byte, blocksPerDisc int, id6, title string) *DiscInfo {
	di := &DiscInfo{Raw: b, BlocksPerDisc: blocksPerDisc}
	h := di.DiscHeader()
	h.SetID6(id6)
	h.SetTitle(title)
	return di
}

// DiscHeader returns the embedded copy of the disc's header.
func (d *DiscInfo) DiscHeader() *discfmt.Header {
	return &discfmt.Header{Raw: d.Raw[:discfmt.HeaderSize]}
}

// WLBA returns the i'th virtual-to-physical WBFS-block mapping. A
// value of 0 means the virtual block is not yet allocated (a hole, for
// a disc added with sparse/trim support).
func (d *DiscInfo) WLBA(i int) uint16 {
	return wbin.U16(d.Raw, DiscInfoHeaderSize+i*2)
}

// SetWLBA sets the i'th virtual-to-physical WBFS-block mapping.
func (d *DiscInfo) SetWLBA(i int, physBlock uint16) {
	wbin.PutU16(d.Raw, DiscInfoHeaderSize+i*2, physBlock)
}

// UsedBlocks returns the list of physical WBFS blocks this disc
// currently occupies (zeros skipped).
func (d *DiscInfo) UsedBlocks() []uint16 {
	var out []uint16
	for i := 0; i < d.BlocksPerDisc; i++ {
		if b := d.WLBA(i); b != 0 {
			out = append(out, b)
		}
	}
	return out
}
