package discfmt

import (
	"fmt"

	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// PartHeader is a typed view over the PartHeaderSize-byte region at the
// start of a partition: the ticket plus the four sub-region
// descriptors (tmd, cert, h3, data). All offsets are stored divided by
// 4, per spec §4.2/§6.
type PartHeader struct {
	Raw []byte
}

// field offsets within the header, relative to TicketSize.
const (
	offTMDSize  = TicketSize + 0x00
	offTMDOff   = TicketSize + 0x04
	offCertSize = TicketSize + 0x08
	offCertOff  = TicketSize + 0x0c
	offH3Off    = TicketSize + 0x10
	offDataOff  = TicketSize + 0x14
	offDataSize = TicketSize + 0x18
)

// ParsePartHeader validates and wraps a PartHeaderSize-byte buffer.
func ParsePartHeader(b []byte) (*PartHeader, error) {
	if len(b) < PartHeaderSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "part header"}
	}
	h := &PartHeader{Raw: b[:PartHeaderSize]}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Ticket returns the embedded ticket view.
func (h *PartHeader) Ticket() *Ticket {
	return &Ticket{Raw: h.Raw[:TicketSize]}
}

// TMDSize returns the stored TMD size in bytes.
func (h *PartHeader) TMDSize() int64 { return int64(wbin.U32(h.Raw, offTMDSize)) }

// TMDOffset returns the TMD's byte offset within the partition.
func (h *PartHeader) TMDOffset() int64 { return wbin.Off4(h.Raw, offTMDOff) }

// CertSize returns the certificate chain's size in bytes.
func (h *PartHeader) CertSize() int64 { return int64(wbin.U32(h.Raw, offCertSize)) }

// CertOffset returns the certificate chain's byte offset.
func (h *PartHeader) CertOffset() int64 { return wbin.Off4(h.Raw, offCertOff) }

// H3Offset returns the H3 table's byte offset.
func (h *PartHeader) H3Offset() int64 { return wbin.Off4(h.Raw, offH3Off) }

// DataOffset returns the encrypted data's byte offset.
func (h *PartHeader) DataOffset() int64 { return wbin.Off4(h.Raw, offDataOff) }

// DataSize returns the encrypted data's size in bytes.
func (h *PartHeader) DataSize() int64 { return wbin.Off4(h.Raw, offDataSize) }

// SetLayout writes all four sub-region descriptors at once, used by
// the composer when laying out a fresh partition (spec §4.6).
func (h *PartHeader) SetLayout(tmdOff, tmdSize, certOff, certSize, h3Off, dataOff, dataSize int64) {
	wbin.PutU32(h.Raw, offTMDSize, uint32(tmdSize))
	wbin.PutOff4(h.Raw, offTMDOff, tmdOff)
	wbin.PutU32(h.Raw, offCertSize, uint32(certSize))
	wbin.PutOff4(h.Raw, offCertOff, certOff)
	wbin.PutOff4(h.Raw, offH3Off, h3Off)
	wbin.PutOff4(h.Raw, offDataOff, dataOff)
	wbin.PutOff4(h.Raw, offDataSize, dataSize)
}

// validate checks the invariants from spec §4.2: offsets are
// 4-byte-aligned and monotonically increasing, H3 fits before data,
// and data is sector aligned.
func (h *PartHeader) validate() error {
	tmdOff, tmdSize := h.TMDOffset(), h.TMDSize()
	certOff, certSize := h.CertOffset(), h.CertSize()
	h3Off := h.H3Offset()
	dataOff, dataSize := h.DataOffset(), h.DataSize()

	bad := func(reason string) error {
		return &werr.Error{Kind: werr.InvalidLayout, At: "part header", Err: fmt.Errorf("%s", reason)}
	}

	if tmdOff%4 != 0 || certOff%4 != 0 || h3Off%4 != 0 || dataOff%4 != 0 {
		return bad("sub-region offset not 4-byte aligned")
	}
	if tmdOff+tmdSize > certOff {
		return bad("tmd overlaps cert")
	}
	if certOff+certSize > h3Off {
		return bad("cert overlaps h3")
	}
	if h3Off+H3Size > dataOff {
		return bad("h3 overlaps data")
	}
	if dataOff%SectorSize != 0 {
		return bad("data offset not sector aligned")
	}
	if dataSize%SectorSize != 0 {
		return bad("data size not a sector multiple")
	}
	return nil
}
