package main

import (
	"fmt"
	"io"

	"github.com/wiidisc/wiidisc/pkg/compose"
	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/hashtree"
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/wconfig"
	"github.com/wiidisc/wiidisc/pkg/wcrypto"
)

// packH3Offset is where a packed partition's H3 table starts.
// partHeaderForGroups fixes the other sub-region offsets: ticket+TMD
// immediately after each other, then the H3 table at this
// sector-aligned offset, then sector-aligned data (spec §4.2/§4.6).
// The offsets do not depend on nGroups.
const packH3Offset = 0x10000

func partHeaderForGroups(nGroups int64) (tmdOff, tmdSize, certOff, h3Off, dataOff int64) {
	tmdOff = discfmt.TicketSize
	tmdSize = discfmt.TMDSize(1)
	certOff = wbin.AlignUp(tmdOff+tmdSize, 4)
	h3Off = packH3Offset
	dataOff = wbin.AlignUp(h3Off+discfmt.H3Size, discfmt.SectorSize)
	return
}

// packDisc lays a composed partition Layout out as a complete,
// fake-signed single-partition disc image, mirroring the byte-by-byte
// construction pkg/integrity's tests drive disc.Open with.
func packDisc(ctx *wconfig.Context, l *compose.Layout, id6, title string, titleKey [wcrypto.KeySize]byte, commonKey [wcrypto.KeySize]byte) ([]byte, error) {
	flags := compose.Normalize(ctx.Defaults.EncodeFlags)

	dataPerGroup := int64(hashtree.GroupSectors * hashtree.SectorDataSize)
	nGroups := (l.DataSize + dataPerGroup - 1) / dataPerGroup
	tmdOff, tmdSize, certOff, h3Off, dataOff := partHeaderForGroups(nGroups)
	dataSize := nGroups * hashtree.GroupSize

	partSize := dataOff + dataSize
	partOffset := l.PartitionOffset
	img := make([]byte, partOffset+partSize)
	part := img[partOffset:]

	h, err := func() (*discfmt.PartHeader, error) {
		raw := make([]byte, discfmt.PartHeaderSize)
		ph := &discfmt.PartHeader{Raw: raw}
		ph.SetLayout(tmdOff, tmdSize, certOff, 0, h3Off, dataOff, dataSize)
		return discfmt.ParsePartHeader(raw)
	}()
	if err != nil {
		return nil, err
	}
	copy(part[:discfmt.PartHeaderSize], h.Raw)

	ticket := part[:discfmt.TicketSize]
	var titleID [8]byte
	copy(titleID[:], id6)
	copy(ticket[discfmt.TicketTitleIDOff:discfmt.TicketTitleIDOff+8], titleID[:])
	ticket[discfmt.TicketCommonKeyIdxOff] = 0

	wrapped := titleKey
	var iv [16]byte
	copy(iv[:8], titleID[:])
	if err := wcrypto.CBCEncrypt(commonKey[:], iv[:], wrapped[:]); err != nil {
		return nil, err
	}
	copy(ticket[discfmt.TicketKeyOff:discfmt.TicketKeyOff+16], wrapped[:])

	tmd := part[tmdOff : tmdOff+tmdSize]
	wbin.PutU16(tmd, discfmt.TmdNContentOff, 1)
	copy(tmd[discfmt.TmdTitleIDOff:discfmt.TmdTitleIDOff+8], titleID[:])

	for i := int64(0); i < nGroups; i++ {
		plain := make([]byte, hashtree.GroupSize)
		for s := int64(0); s < hashtree.GroupSectors; s++ {
			data := plain[s*hashtree.SectorSize+hashtree.SectorHashSize : (s+1)*hashtree.SectorSize]
			if _, err := l.ReadAt(data, i*dataPerGroup+s*hashtree.SectorDataSize); err != nil && err != io.EOF {
				return nil, err
			}
		}
		g, err := hashtree.ParseGroup(plain)
		if err != nil {
			return nil, err
		}
		groupH3 := g.DeriveHashes()
		copy(part[h3Off+i*wcrypto.HashSize:], groupH3[:])

		out := plain
		if flags&compose.Encrypt != 0 {
			if err := hashtree.EncryptGroup(titleKey, g); err != nil {
				return nil, err
			}
			out = make([]byte, 0, hashtree.GroupSize)
			for _, sec := range g.Sectors {
				out = append(out, sec.Raw...)
			}
		}
		copy(part[dataOff+i*hashtree.GroupSize:], out)
	}

	contentHash := wcrypto.SHA1(part[h3Off : h3Off+discfmt.H3Size])
	copy(tmd[discfmt.TmdHeaderSize+0x10:discfmt.TmdHeaderSize+0x10+discfmt.HashSize], contentHash[:])

	if flags&compose.Sign != 0 {
		if err := l.FakeSignDisc(ticket, tmd, ctx.Defaults.FakeSignMax); err != nil {
			return nil, fmt.Errorf("fake-sign: %w", err)
		}
	}

	hdr, err := discfmt.ParseHeader(func() []byte {
		b := make([]byte, discfmt.HeaderSize)
		wbin.PutU32(b, discfmt.WiiMagicOff, discfmt.WiiMagic)
		return b
	}())
	if err != nil {
		return nil, err
	}
	hdr.SetID6(id6)
	hdr.SetTitle(title)
	copy(img[:discfmt.HeaderSize], hdr.Raw)

	ptabOff := int64(discfmt.PartTableOffset + discfmt.PartTableSize)
	wbin.PutU32(img, discfmt.PartTableOffset, 1)
	wbin.PutOff4(img, discfmt.PartTableOffset+4, ptabOff)
	wbin.PutOff4(img, int(ptabOff), partOffset)
	wbin.PutU32(img, int(ptabOff)+4, uint32(discfmt.PartTypeData))

	return img, nil
}
