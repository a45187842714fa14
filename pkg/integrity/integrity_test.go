package integrity

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/hashtree"
	"github.com/wiidisc/wiidisc/pkg/wbin"
	"github.com/wiidisc/wiidisc/pkg/wcrypto"
	"github.com/wiidisc/wiidisc/pkg/wconfig"
)

// buildSingleGroupPartition assembles one fully hashed, encrypted
// partition (ticket + TMD + H3 table + one 2 MiB group of data) at
// partOffset within buf, wiring a title key so disc.Open/VerifyDisc
// can walk it end to end.
func buildSingleGroupPartition(t *testing.T, buf []byte, partOffset int64, commonKey [16]byte, titleID [8]byte, titleKey [16]byte, corruptData bool) {
	t.Helper()

	const (
		tmdOff  = discfmt.TicketSize
		certOff = tmdOff + 0x210 // rounded up from TMDSize(1)=0x208
		certSz  = 0
		h3Off   = 0x10000
		dataOff = h3Off + discfmt.H3Size
		dataSz  = hashtree.GroupSize
	)

	part := buf[partOffset : partOffset+dataOff+dataSz]

	hdr, err := discfmt.ParsePartHeader(func() []byte {
		// validate() requires a settled layout already in place; write
		// it into a throwaway header-sized region first.
		h := make([]byte, discfmt.PartHeaderSize)
		ph := &discfmt.PartHeader{Raw: h}
		ph.SetLayout(tmdOff, discfmt.TMDSize(1), certOff, certSz, h3Off, dataOff, dataSz)
		return h
	}())
	require.NoError(t, err)
	copy(part[:discfmt.PartHeaderSize], hdr.Raw)

	// Ticket: title id, wrapped title key, common key index 0.
	ticket := part[:discfmt.TicketSize]
	copy(ticket[discfmt.TicketTitleIDOff:discfmt.TicketTitleIDOff+8], titleID[:])
	wrapped := make([]byte, 16)
	copy(wrapped, titleKey[:])
	var iv [16]byte
	copy(iv[:8], titleID[:])
	require.NoError(t, wcrypto.CBCEncrypt(commonKey[:], iv[:], wrapped))
	copy(ticket[discfmt.TicketKeyOff:discfmt.TicketKeyOff+16], wrapped)
	ticket[discfmt.TicketCommonKeyIdxOff] = 0

	// One plaintext group: fill every sector's data area with a fixed
	// pattern, then derive the whole hash tree.
	raw := make([]byte, hashtree.GroupSize)
	for i := 0; i < hashtree.GroupSectors; i++ {
		sec := raw[i*hashtree.SectorSize : (i+1)*hashtree.SectorSize]
		for j := hashtree.SectorHashSize; j < hashtree.SectorSize; j++ {
			sec[j] = byte(i + j)
		}
	}
	group, err := hashtree.ParseGroup(raw)
	require.NoError(t, err)
	h3 := group.DeriveHashes()
	require.NoError(t, hashtree.EncryptGroup(titleKey, group))

	cipher := make([]byte, 0, hashtree.GroupSize)
	for _, sec := range group.Sectors {
		cipher = append(cipher, sec.Raw...)
	}
	if corruptData {
		// Flip a ciphertext byte in sector 0's data area: it still
		// decrypts (CBC only garbles the affected block), but the
		// plaintext no longer matches the H0 hash computed before
		// encryption.
		cipher[hashtree.SectorHashSize] ^= 0xff
	}
	copy(part[dataOff:dataOff+dataSz], cipher)

	// H3 table: only the first entry is live (one group).
	copy(part[h3Off:h3Off+discfmt.HashSize], h3[:])

	// TMD: content[0].Hash = SHA-1(whole H3 table).
	tmd := part[tmdOff : tmdOff+discfmt.TMDSize(1)]
	wbin.PutU16(tmd, discfmt.TmdNContentOff, 1)
	contentOff := discfmt.TmdHeaderSize
	wantH4 := wcrypto.SHA1(part[h3Off : h3Off+discfmt.H3Size])
	copy(tmd[contentOff+0x10:contentOff+0x10+discfmt.HashSize], wantH4[:])
}

func buildTestDisc(t *testing.T, corruptData bool) []byte {
	t.Helper()

	const partOffset = 0x50000
	const partSize = 0x10000 + discfmt.H3Size + hashtree.GroupSize
	img := make([]byte, partOffset+partSize)

	hdr, err := discfmt.ParseHeader(img[:discfmt.HeaderSize])
	require.NoError(t, err)
	wbin.PutU32(hdr.Raw, discfmt.WiiMagicOff, discfmt.WiiMagic)

	ptabOff := int64(discfmt.PartTableOffset + discfmt.PartTableSize)
	wbin.PutU32(img, discfmt.PartTableOffset, 1)
	wbin.PutOff4(img, discfmt.PartTableOffset+4, ptabOff)
	wbin.PutOff4(img, int(ptabOff), partOffset)
	wbin.PutU32(img, int(ptabOff)+4, uint32(discfmt.PartTypeData))

	commonKey := [16]byte{1, 2, 3, 4}
	titleID := [8]byte{0xde, 0xad, 0xbe, 0xef}
	titleKey := [16]byte{9, 8, 7, 6}
	buildSingleGroupPartition(t, img, partOffset, commonKey, titleID, titleKey, corruptData)

	return img
}

func testContext(t *testing.T) *wconfig.Context {
	t.Helper()
	ctx, err := wconfig.New(wconfig.WithKeys(disc.CommonKeys{0: {1, 2, 3, 4}}))
	require.NoError(t, err)
	return ctx
}

func TestVerifyDiscAcceptsWellFormedPartition(t *testing.T) {
	img := buildTestDisc(t, false)
	d, err := disc.Open(bytes.NewReader(img))
	require.NoError(t, err)

	report, err := VerifyDisc(testContext(t), d)
	require.NoError(t, err)
	require.True(t, report.OK(), report.String())
}

func TestVerifyDiscFlagsCorruptedData(t *testing.T) {
	img := buildTestDisc(t, true)
	d, err := disc.Open(bytes.NewReader(img))
	require.NoError(t, err)

	report, err := VerifyDisc(testContext(t), d)
	require.NoError(t, err)
	require.False(t, report.OK())
	require.Contains(t, report.String(), "IntegrityFailed")
}
