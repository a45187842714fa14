// Package hashtree implements the Wii hashed-partition sector format:
// the H0/H1/H2/H3 SHA-1 hash tree that covers every 2 MiB "group" of 64
// sectors, and the per-sector decrypt/encrypt step that sits underneath
// it (spec §4.3, component C4).
//
// Layout is ported directly from wd_part_sector_t in
// original_source/project/src/libwbfs/file-formats.h: each 0x8000-byte
// sector holds a 0x400-byte hash area (31 H0 hashes over 0x400-byte
// data chunks, 8 H1 hashes over the group's per-sector H0-areas, 8 H2
// hashes over the subgroup's H1-areas) followed by a 0x7c00-byte data
// area. The H3 table (0x18000 bytes, room for 4915 hashes, one per group, spanning the whole
// partition) lives outside the sector in the partition's h3 region.
package hashtree

import (
	"fmt"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/wcrypto"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

const (
	SectorSize     = discfmt.SectorSize
	SectorHashSize = discfmt.SectorHashSize
	SectorDataSize = discfmt.SectorDataSize

	H0DataSize = 0x400
	NH0        = SectorDataSize / H0DataSize // 31
	NH1        = 8
	NH2        = 8

	GroupSectors = NH1 * NH2 // 64
	GroupSize    = GroupSectors * SectorSize

	H3Size   = discfmt.H3Size
	HashSize = wcrypto.HashSize

	// The H0 area (NH0*HashSize = 0x26c bytes) is followed by a 0x14-byte
	// padding gap before H1, and the H1 area (NH1*HashSize = 0xa0 bytes)
	// is followed by a 0x20-byte padding gap before H2 — both gaps are
	// part of wd_part_sector_t's on-disc layout, not derivable from the
	// hash counts/sizes above.
	h1AreaOff = 0x280
	h2AreaOff = 0x340
)

// Sector is a typed view over one decrypted 0x8000-byte sector: its
// hash area (H0/H1/H2) plus its 0x7c00-byte data area.
type Sector struct {
	Raw []byte
}

// ParseSector wraps an existing SectorSize-byte buffer.
func ParseSector(b []byte) (*Sector, error) {
	if len(b) < SectorSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "sector"}
	}
	return &Sector{Raw: b[:SectorSize]}, nil
}

// H0 returns the i'th H0 hash (over data chunk i).
func (s *Sector) H0(i int) [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], s.Raw[i*HashSize:(i+1)*HashSize])
	return out
}

// SetH0 sets the i'th H0 hash.
func (s *Sector) SetH0(i int, h [HashSize]byte) {
	copy(s.Raw[i*HashSize:(i+1)*HashSize], h[:])
}

// H1 returns the i'th H1 hash (over sector i's full H0 area, within
// this sector's subgroup of 8).
func (s *Sector) H1(i int) [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], s.Raw[h1AreaOff+i*HashSize:h1AreaOff+(i+1)*HashSize])
	return out
}

// SetH1 sets the i'th H1 hash.
func (s *Sector) SetH1(i int, h [HashSize]byte) {
	copy(s.Raw[h1AreaOff+i*HashSize:h1AreaOff+(i+1)*HashSize], h[:])
}

// H2 returns the i'th H2 hash (over subgroup i's full H1 area).
func (s *Sector) H2(i int) [HashSize]byte {
	var out [HashSize]byte
	copy(out[:], s.Raw[h2AreaOff+i*HashSize:h2AreaOff+(i+1)*HashSize])
	return out
}

// SetH2 sets the i'th H2 hash.
func (s *Sector) SetH2(i int, h [HashSize]byte) {
	copy(s.Raw[h2AreaOff+i*HashSize:h2AreaOff+(i+1)*HashSize], h[:])
}

// Data returns the sector's 0x7c00-byte data area.
func (s *Sector) Data() []byte {
	return s.Raw[SectorHashSize:SectorSize]
}

// DataChunk returns the i'th 0x400-byte data chunk covered by H0(i).
func (s *Sector) DataChunk(i int) []byte {
	d := s.Data()
	return d[i*H0DataSize : (i+1)*H0DataSize]
}

// DeriveH0 recomputes all 31 H0 hashes from the sector's current data
// area, writing them into the hash area.
func (s *Sector) DeriveH0() {
	for i := 0; i < NH0; i++ {
		h := wcrypto.SHA1(s.DataChunk(i))
		s.SetH0(i, h)
	}
}

// Group is a view over GroupSectors consecutive sectors (one hash-tree
// "group", 2 MiB), used to fold per-sector H0/H1 areas up into H2 and
// ultimately H3.
type Group struct {
	Sectors [GroupSectors]*Sector
}

// ParseGroup wraps GroupSectors consecutive SectorSize-byte sectors
// from a GroupSize-byte buffer.
func ParseGroup(b []byte) (*Group, error) {
	if len(b) < GroupSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "group"}
	}
	var g Group
	for i := 0; i < GroupSectors; i++ {
		sec, err := ParseSector(b[i*SectorSize : (i+1)*SectorSize])
		if err != nil {
			return nil, err
		}
		g.Sectors[i] = sec
	}
	return &g, nil
}

// DeriveHashes recomputes the entire tree bottom-up for every sector in
// the group (H0 from data, H1 from each sector's own H0 area, H2 from
// each subgroup's H1 areas broadcast back to every sector in the
// subgroup, per the console's redundant-storage scheme where every
// sector in a group carries the full H1/H2 table) and returns the
// resulting H3 hash for the whole group.
func (g *Group) DeriveHashes() [HashSize]byte {
	for i := 0; i < GroupSectors; i++ {
		g.Sectors[i].DeriveH0()
	}

	// H1[i] (within sector i's own area) is the hash over sector i's
	// H0 area; every sector in the same subgroup of 8 carries the same
	// H1 table, indexed by sector-within-subgroup.
	for sub := 0; sub < NH2; sub++ {
		var h1 [NH1][HashSize]byte
		for j := 0; j < NH1; j++ {
			idx := sub*NH1 + j
			h1[j] = wcrypto.SHA1(g.Sectors[idx].Raw[0:h1AreaOff])
		}
		for j := 0; j < NH1; j++ {
			idx := sub*NH1 + j
			for k := 0; k < NH1; k++ {
				g.Sectors[idx].SetH1(k, h1[k])
			}
		}
	}

	// H2[sub] is the hash over subgroup sub's H1 area; every sector in
	// the group carries the full H2 table.
	var h2 [NH2][HashSize]byte
	for sub := 0; sub < NH2; sub++ {
		idx := sub * NH1
		h2[sub] = wcrypto.SHA1(g.Sectors[idx].Raw[h1AreaOff:h2AreaOff])
	}
	for i := 0; i < GroupSectors; i++ {
		for sub := 0; sub < NH2; sub++ {
			g.Sectors[i].SetH2(sub, h2[sub])
		}
	}

	h2Area := make([]byte, NH2*HashSize)
	for sub := 0; sub < NH2; sub++ {
		copy(h2Area[sub*HashSize:(sub+1)*HashSize], h2[sub][:])
	}
	return wcrypto.SHA1(h2Area)
}

// Verify re-derives every hash in the group (without mutating it) and
// compares against what is already stored, reporting the first
// mismatch found. Used by the integrity checker (spec §4.11/C11).
func (g *Group) Verify(wantH3 [HashSize]byte) error {
	scratch := make([]byte, GroupSize)
	for i, sec := range g.Sectors {
		copy(scratch[i*SectorSize:(i+1)*SectorSize], sec.Raw)
	}
	probe, err := ParseGroup(scratch)
	if err != nil {
		return err
	}
	gotH3 := probe.DeriveHashes()

	for i := 0; i < GroupSectors; i++ {
		for j := 0; j < NH0; j++ {
			if probe.Sectors[i].H0(j) != g.Sectors[i].H0(j) {
				return &werr.Error{Kind: werr.IntegrityFailed, Which: string(werr.H0), At: fmt.Sprintf("sector %d chunk %d", i, j)}
			}
		}
		for j := 0; j < NH1; j++ {
			if probe.Sectors[i].H1(j) != g.Sectors[i].H1(j) {
				return &werr.Error{Kind: werr.IntegrityFailed, Which: string(werr.H1), At: fmt.Sprintf("sector %d", i)}
			}
		}
		for j := 0; j < NH2; j++ {
			if probe.Sectors[i].H2(j) != g.Sectors[i].H2(j) {
				return &werr.Error{Kind: werr.IntegrityFailed, Which: string(werr.H2), At: fmt.Sprintf("sector %d", i)}
			}
		}
	}
	if gotH3 != wantH3 {
		return &werr.Error{Kind: werr.IntegrityFailed, Which: string(werr.H3)}
	}
	return nil
}

// DecryptGroup AES-CBC-decrypts a GroupSize-byte buffer of raw
// (on-disc, encrypted) sectors in place: each sector's hash area is
// decrypted with a zero IV, and each sector's data area is decrypted
// with the IV taken from the last 16 bytes of that same sector's
// (now-plaintext) H2 area, per the console's per-sector keying scheme.
func DecryptGroup(titleKey [wcrypto.KeySize]byte, raw []byte) (*Group, error) {
	if len(raw) < GroupSize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "group"}
	}
	var zeroIV [16]byte
	for i := 0; i < GroupSectors; i++ {
		sec := raw[i*SectorSize : (i+1)*SectorSize]
		if err := wcrypto.CBCDecrypt(titleKey[:], zeroIV[:], sec[:SectorHashSize]); err != nil {
			return nil, err
		}
		var iv [16]byte
		copy(iv[:], sec[0x3d0:0x3e0]) // last 16 bytes of the H2 area, used as the data area's IV
		if err := wcrypto.CBCDecrypt(titleKey[:], iv[:], sec[SectorHashSize:SectorSize]); err != nil {
			return nil, err
		}
	}
	return ParseGroup(raw)
}

// EncryptGroup is the inverse of DecryptGroup: given a group whose
// hashes have already been derived via DeriveHashes, it AES-CBC
// encrypts each sector's hash area (zero IV) and data area (IV = the
// last 16 bytes of the plaintext H2 area) in place, turning it back
// into on-disc ciphertext.
func EncryptGroup(titleKey [wcrypto.KeySize]byte, g *Group) error {
	var zeroIV [16]byte
	for i := 0; i < GroupSectors; i++ {
		sec := g.Sectors[i]
		var iv [16]byte
		copy(iv[:], sec.Raw[0x3d0:0x3e0]) // last 16 bytes of the H2 area
		if err := wcrypto.CBCEncrypt(titleKey[:], iv[:], sec.Data()); err != nil {
			return err
		}
		if err := wcrypto.CBCEncrypt(titleKey[:], zeroIV[:], sec.Raw[:SectorHashSize]); err != nil {
			return err
		}
	}
	return nil
}
