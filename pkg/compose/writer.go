package compose

import (
	"io"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/hashtree"
	"github.com/wiidisc/wiidisc/pkg/wcrypto"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// WriteDisc streams the composed partition out to w, group by group
// (spec §4.6 write-back: "iterate 2-MiB groups; for each group, gather
// contributing items; encrypt; emit"). Layout offsets address the
// partition's data space, so each sector receives the next 0x7c00
// layout bytes in its data area and its 0x400-byte hash area stays
// free for the hash tree. flags selects hashing and encryption (already
// run through Normalize; Sign is applied separately by FakeSignDisc);
// titleKey is required whenever flags implies Encrypt.
func (l *Layout) WriteDisc(w io.Writer, flags EncodeFlag, titleKey [wcrypto.KeySize]byte) error {
	dataPerGroup := int64(hashtree.GroupSectors * hashtree.SectorDataSize)
	nGroups := (l.DataSize + dataPerGroup - 1) / dataPerGroup

	for i := int64(0); i < nGroups; i++ {
		plain := make([]byte, hashtree.GroupSize)
		for s := int64(0); s < hashtree.GroupSectors; s++ {
			data := plain[s*hashtree.SectorSize+hashtree.SectorHashSize : (s+1)*hashtree.SectorSize]
			if _, err := l.ReadAt(data, i*dataPerGroup+s*hashtree.SectorDataSize); err != nil && err != io.EOF {
				return err
			}
		}

		g, err := hashtree.ParseGroup(plain)
		if err != nil {
			return err
		}

		if flags&Hash != 0 {
			g.DeriveHashes()
		}

		out := plain
		if flags&Encrypt != 0 {
			if err := hashtree.EncryptGroup(titleKey, g); err != nil {
				return err
			}
			out = groupBytes(g)
		}

		if _, err := w.Write(out); err != nil {
			return werr.Io("compose write group", err)
		}
	}
	return nil
}

func groupBytes(g *hashtree.Group) []byte {
	out := make([]byte, 0, hashtree.GroupSize)
	for _, sec := range g.Sectors {
		out = append(out, sec.Raw...)
	}
	return out
}

// FakeSignDisc brute-forces the partition's ticket and TMD signature
// padding so the partition passes the console's lax "first byte of
// SHA-1(signed region) is zero" check without a real Nintendo
// signature (spec §4.2 "fake signing"). ticket and tmd are the
// caller's own buffers and are modified in place; the layout's mapping
// is not consulted.
func (l *Layout) FakeSignDisc(ticket, tmd []byte, maxIterations int) error {
	if _, err := wcrypto.BruteForceFakeSign(ticket, len(ticket), discfmt.TicketFakeSignOff, maxIterations); err != nil {
		return err
	}
	if _, err := wcrypto.BruteForceFakeSign(tmd, len(tmd), discfmt.TmdFakeSignOff, maxIterations); err != nil {
		return err
	}
	return nil
}
