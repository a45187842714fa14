package discfmt

import (
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// boot.bin (wd_boot_t) layout: the disc Header followed by the dol/fst
// pointer block, per original_source/project/src/libwbfs/file-formats.h.
const (
	BootSize = 0x440

	bootDolOffOff     = 0x420
	bootFstOffOff     = 0x424
	bootFstSizeOff    = 0x428
	bootMaxFstSizeOff = 0x42c
)

// Boot is a typed view over a partition's boot.bin.
type Boot struct {
	Raw []byte
}

// ParseBoot wraps an existing BootSize-byte buffer.
func ParseBoot(b []byte) (*Boot, error) {
	if len(b) < BootSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "boot.bin"}
	}
	return &Boot{Raw: b[:BootSize]}, nil
}

// Header returns the embedded disc header.
func (b *Boot) Header() *Header {
	return &Header{Raw: b.Raw[:HeaderSize]}
}

// DolOffset returns the main.dol's byte offset within the partition.
func (b *Boot) DolOffset() int64 { return wbin.Off4(b.Raw, bootDolOffOff) }

// SetDolOffset sets the main.dol's byte offset.
func (b *Boot) SetDolOffset(off int64) { wbin.PutOff4(b.Raw, bootDolOffOff, off) }

// FSTOffset returns the FST's byte offset within the partition.
func (b *Boot) FSTOffset() int64 { return wbin.Off4(b.Raw, bootFstOffOff) }

// SetFSTOffset sets the FST's byte offset.
func (b *Boot) SetFSTOffset(off int64) { wbin.PutOff4(b.Raw, bootFstOffOff, off) }

// FSTSize returns the FST's current size in bytes.
func (b *Boot) FSTSize() int64 { return wbin.Off4(b.Raw, bootFstSizeOff) }

// SetFSTSize sets the FST's current size in bytes.
func (b *Boot) SetFSTSize(size int64) { wbin.PutOff4(b.Raw, bootFstSizeOff, size) }

// MaxFSTSize returns the largest FST size across every disc of a
// multi-disc title (>= FSTSize).
func (b *Boot) MaxFSTSize() int64 { return wbin.Off4(b.Raw, bootMaxFstSizeOff) }

// SetMaxFSTSize sets the largest-FST-size field.
func (b *Boot) SetMaxFSTSize(size int64) { wbin.PutOff4(b.Raw, bootMaxFstSizeOff, size) }
