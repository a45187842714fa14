// Package wbfs implements the WBFS multi-disc block store: a
// WBFS_MAGIC-stamped header describing the container's geometry, a
// fixed slot table of disc-info pointers, a per-slot WLBA (virtual ->
// physical block) table, and a shared free-block bitmap (component C7,
// spec §4.7-§4.10).
//
// Layout is grounded on wbfs_head_t/wbfs_disc_info_t in
// original_source/project/src/libwbfs/file-formats.h and on the
// geometry/add/remove/check logic in
// original_source/project/src/wbfs-interface.c (hd_sec_sz_s and
// wbfs_sec_sz_s are log2 shift values, not raw sizes; the magic is the
// literal bytes "WBFS").
package wbfs

import (
	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

const (
	Magic = 0x57424653 // "WBFS"

	HeaderMagicOff   = 0x00
	HeaderNHDSecOff  = 0x04
	HeaderHDSecSzOff = 0x08
	HeaderWbfsSecSzOff = 0x09
	HeaderVersionOff = 0x0a
	HeaderDiscTableOff = 0x0c

	// CurrentVersion is written into fresh headers. The original
	// format's version byte is purely informative (spec Open Question
	// "WBFS v0 rounding"); we default new containers to version 1 and
	// preserve whatever version an opened container already carries.
	CurrentVersion = 1

	DiscInfoHeaderSize = 0x100 // embedded disc header (id6/title) before the wlba table

	// WiiSectorsSingleLayer is a single-layer Wii DVD's Wii-sector count
	// (file-formats.h's WII_SECTORS_SINGLE_LAYER).
	WiiSectorsSingleLayer = 143432
)

// BlocksPerDisc returns wbfs_blocks_per_disc (spec §3 Geometry
// invariants): the fixed number of WLBA entries every slot's disc-info
// block reserves, sized to cover up to a dual-layer disc
// (max_disc_bytes = 2*single-layer-capacity) at the given wbfs block
// size. It is a function of wbfs_sec_sz alone — one of the header's
// three geometry-defining fields — never of the container's total
// capacity, so a slot's size doesn't balloon as more discs are added.
func BlocksPerDisc(wbfsSectorSize int64) int {
	maxDiscBytes := int64(2*WiiSectorsSingleLayer) * discfmt.SectorSize
	return int((maxDiscBytes + wbfsSectorSize - 1) / wbfsSectorSize)
}

// Header is a typed view over a WBFS container's first hd-sector.
type Header struct {
	Raw []byte
}

// ParseHeader validates and wraps an existing buffer of at least
// HeaderDiscTableOff bytes (the disc table itself is variable length,
// sized by Geometry).
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderDiscTableOff {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "wbfs header"}
	}
	h := &Header{Raw: b}
	if wbin.U32(b, HeaderMagicOff) != Magic {
		return nil, &werr.Error{Kind: werr.BadFormat, At: "wbfs header"}
	}
	return h, nil
}

// InitHeader stamps a fresh header (magic + geometry fields) into b.
func InitHeader(b []byte, nHDSec uint32, hdSecSzShift, wbfsSecSzShift uint8) *Header {
	wbin.PutU32(b, HeaderMagicOff, Magic)
	wbin.PutU32(b, HeaderNHDSecOff, nHDSec)
	b[HeaderHDSecSzOff] = hdSecSzShift
	b[HeaderWbfsSecSzOff] = wbfsSecSzShift
	b[HeaderVersionOff] = CurrentVersion
	return &Header{Raw: b}
}

// NHDSec returns the total number of hd-sectors in the partition.
func (h *Header) NHDSec() uint32 { return wbin.U32(h.Raw, HeaderNHDSecOff) }

// HDSectorSize returns the real hd-sector size in bytes (1 << shift).
func (h *Header) HDSectorSize() int64 { return 1 << h.Raw[HeaderHDSecSzOff] }

// WBFSSectorSize returns the WBFS block ("wbfs sector") size in bytes.
func (h *Header) WBFSSectorSize() int64 { return 1 << h.Raw[HeaderWbfsSecSzOff] }

// Version returns the header's informative format version byte.
func (h *Header) Version() uint8 { return h.Raw[HeaderVersionOff] }

// NWbfsSec returns the total number of WBFS blocks the partition is
// divided into.
func (h *Header) NWbfsSec() uint32 {
	return uint32(int64(h.NHDSec()) * h.HDSectorSize() / h.WBFSSectorSize())
}

// DiscTable returns the raw slot table: one byte per slot, 0 = free,
// 1 = occupied, sized by MaxSlots.
func (h *Header) DiscTable(maxSlots int) []byte {
	return h.Raw[HeaderDiscTableOff : HeaderDiscTableOff+maxSlots]
}

// MaxSlots computes how many slot-table bytes fit before the next
// hd-sector boundary, per the original format's "disc_table[0]; size
// depends on hd sector size" comment, further capped by the geometry
// invariant max_discs ≤ (header_region − header_bytes) / disc_info_size
// (spec §3): a container is never promised more slots than its total
// capacity has room to hold disc-info blocks for, generalized from a
// single hd-sector to the whole media since discInfoSize now scales
// with wbfs_sec_sz rather than with the container's total block count.
func MaxSlots(hdSectorSize, discInfoSize, totalBytes int64) int {
	n := int(hdSectorSize) - HeaderDiscTableOff
	if n < 0 {
		n = 0
	}
	if discInfoSize > 0 && totalBytes > hdSectorSize {
		if byInfo := int((totalBytes - hdSectorSize) / discInfoSize); byInfo < n {
			n = byInfo
		}
	}
	return n
}
