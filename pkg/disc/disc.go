// Package disc implements component C5: parsing a disc image's header
// and partition tables, and exposing decrypted read access to each
// partition's data and file system.
//
// The lazy-cached accessor style (read-and-cache on first call, reuse
// for later calls) is grounded on pkg/vdecompiler.IO's
// GPTHeader/GPTEntries/Superblock methods, generalized from GPT
// partitions to the disc's up-to-four Wii partition tables.
package disc

import (
	"fmt"
	"io"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/fst"
	"github.com/wiidisc/wiidisc/pkg/hashtree"
	"github.com/wiidisc/wiidisc/pkg/wcrypto"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// CommonKeys holds the console's AES-128 common keys, indexed the same
// way a ticket's CommonKeyIndex field is (spec §4.2): 0 = standard,
// 1 = Korean.
type CommonKeys map[byte][wcrypto.KeySize]byte

// Disc is a parsed view over a disc image's header and partition
// tables.
type Disc struct {
	r      io.ReadSeeker
	header *discfmt.Header

	ptabInfo *[discfmt.PartTableCount]discfmt.PTabInfo
	parts    []*Partition
}

// Open reads and validates the disc header at the start of r.
func Open(r io.ReadSeeker) (*Disc, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, werr.Io("disc header seek", err)
	}
	buf := make([]byte, discfmt.HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, werr.Io("disc header read", err)
	}
	hdr, err := discfmt.ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	if !hdr.IsWii() && !hdr.IsGameCube() {
		return nil, &werr.Error{Kind: werr.BadFormat, At: "disc header"}
	}
	return &Disc{r: r, header: hdr}, nil
}

// Header returns the disc's header view.
func (d *Disc) Header() *discfmt.Header { return d.header }

func (d *Disc) readAt(off, size int64) ([]byte, error) {
	if _, err := d.r.Seek(off, io.SeekStart); err != nil {
		return nil, werr.Io(fmt.Sprintf("seek %#x", off), err)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return nil, werr.Io(fmt.Sprintf("read %#x bytes at %#x", size, off), err)
	}
	return buf, nil
}

func (d *Disc) loadPTabInfo() error {
	if d.ptabInfo != nil {
		return nil
	}
	buf, err := d.readAt(discfmt.PartTableOffset, discfmt.PartTableSize)
	if err != nil {
		return err
	}
	info, err := discfmt.ParsePTabInfo(buf)
	if err != nil {
		return err
	}
	d.ptabInfo = &info
	return nil
}

// Partitions returns every partition referenced by the disc's (up to
// four) partition tables, in table order then entry order.
func (d *Disc) Partitions() ([]*Partition, error) {
	if d.parts != nil {
		return d.parts, nil
	}
	if err := d.loadPTabInfo(); err != nil {
		return nil, err
	}

	var parts []*Partition
	for _, tab := range d.ptabInfo {
		if tab.NPart == 0 {
			continue
		}
		buf, err := d.readAt(tab.Offset, int64(tab.NPart)*discfmt.PartEntrySize)
		if err != nil {
			return nil, err
		}
		for i := uint32(0); i < tab.NPart; i++ {
			e := discfmt.ParsePTabEntry(buf[i*discfmt.PartEntrySize : (i+1)*discfmt.PartEntrySize])
			parts = append(parts, &Partition{disc: d, Offset: e.Offset, Type: e.Type})
		}
	}
	d.parts = parts
	return parts, nil
}

// PartitionByType returns the first partition of the given type, in
// partition-table order.
func (d *Disc) PartitionByType(t discfmt.PartitionType) (*Partition, error) {
	parts, err := d.Partitions()
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if p.Type == t {
			return p, nil
		}
	}
	return nil, &werr.Error{Kind: werr.InvalidLayout, At: fmt.Sprintf("partition type %d not found", t)}
}

// mainPartitionOrder is the preference order a disc's boot process
// falls back through to find its main partition (spec §4.4).
var mainPartitionOrder = []discfmt.PartitionType{
	discfmt.PartTypeData,
	discfmt.PartTypeChannel,
	discfmt.PartTypeUpdate,
	discfmt.PartTypeStart,
}

// MainPartition returns the disc's primary partition, preferring a data
// partition but falling back through channel, update, and start
// partitions in that order when no data partition is present (spec
// §4.4).
func (d *Disc) MainPartition() (*Partition, error) {
	var err error
	for _, t := range mainPartitionOrder {
		var p *Partition
		p, err = d.PartitionByType(t)
		if err == nil {
			return p, nil
		}
	}
	return nil, err
}

// UsedSectorBitmap derives a Wii-sector-granularity (discfmt.SectorSize)
// usage bitmap spanning [0,totalSize): the disc header, the partition
// tables, every partition's shell (everything before its data region:
// ticket, TMD, cert chain, H3 table), and each partition's actually
// referenced file data (via its FST, falling back to the full declared
// data size when the FST can't be read or decrypted). Feeding this into
// a WBFS add sparsifies the result instead of densely copying every
// nominal byte (spec §4.5 steps 1-3).
func (d *Disc) UsedSectorBitmap(parts []*Partition, keys CommonKeys, totalSize int64) []bool {
	n := (totalSize + discfmt.SectorSize - 1) / discfmt.SectorSize
	bitmap := make([]bool, n)
	mark := func(off, size int64) {
		if size <= 0 || off < 0 {
			return
		}
		first := off / discfmt.SectorSize
		last := (off + size - 1) / discfmt.SectorSize
		for s := first; s <= last && s < int64(len(bitmap)); s++ {
			bitmap[s] = true
		}
	}

	mark(0, discfmt.HeaderSize)
	mark(discfmt.PartTableOffset, discfmt.PartTableSize)
	if d.ptabInfo != nil {
		for _, tab := range d.ptabInfo {
			if tab.NPart > 0 {
				mark(tab.Offset, int64(tab.NPart)*discfmt.PartEntrySize)
			}
		}
	}

	for _, p := range parts {
		h, err := p.Header()
		if err != nil {
			continue
		}
		mark(p.Offset, h.DataOffset())

		extent := h.DataSize()
		if titleKey, err := p.TitleKey(keys); err == nil {
			extent = p.usedDataExtent(titleKey)
		}
		mark(p.Offset+h.DataOffset(), extent)
	}

	return bitmap
}

// usedDataExtent returns how many bytes from the start of the
// partition's data region its FST actually references (the furthest
// file's dataOffset+size), rather than the full, often mostly padded,
// DataSize(). Falls back to DataSize() whenever the FST can't be read,
// since sparsification is a space optimization, never a correctness
// requirement.
func (p *Partition) usedDataExtent(titleKey [wcrypto.KeySize]byte) int64 {
	h, err := p.Header()
	if err != nil {
		return 0
	}
	boot, err := p.Boot(titleKey)
	if err != nil {
		return h.DataSize()
	}
	r, err := p.DecryptedReader(titleKey)
	if err != nil {
		return h.DataSize()
	}
	if _, err := io.CopyN(io.Discard, r, boot.FSTOffset()); err != nil {
		return h.DataSize()
	}
	buf := make([]byte, boot.FSTSize())
	if _, err := io.ReadFull(r, buf); err != nil {
		return h.DataSize()
	}
	if len(buf) < discfmt.FSTEntrySize {
		return h.DataSize()
	}
	root, err := discfmt.ParseFSTEntry(buf[:discfmt.FSTEntrySize])
	if err != nil {
		return h.DataSize()
	}
	nEntries := int(root.Size())
	if nEntries < 1 || nEntries*discfmt.FSTEntrySize > len(buf) {
		return h.DataSize()
	}

	var end int64
	for i := 1; i < nEntries; i++ {
		e, err := discfmt.ParseFSTEntry(buf[i*discfmt.FSTEntrySize : (i+1)*discfmt.FSTEntrySize])
		if err != nil {
			return h.DataSize()
		}
		if e.Flag() != discfmt.FSTFile {
			continue
		}
		if fileEnd := e.DataOffset() + int64(e.Size()); fileEnd > end {
			end = fileEnd
		}
	}
	if end <= 0 || end > h.DataSize() {
		return h.DataSize()
	}
	return end
}

// Partition is one hashed partition on the disc: its own ticket, TMD,
// cert chain, H3 table, and AES-encrypted hash-tree data.
type Partition struct {
	disc   *Disc
	Offset int64
	Type   discfmt.PartitionType

	header *discfmt.PartHeader
}

// Header reads and validates the partition's PartHeaderSize-byte
// header (ticket + sub-region descriptors), caching the result.
func (p *Partition) Header() (*discfmt.PartHeader, error) {
	if p.header != nil {
		return p.header, nil
	}
	buf, err := p.disc.readAt(p.Offset, discfmt.PartHeaderSize)
	if err != nil {
		return nil, err
	}
	h, err := discfmt.ParsePartHeader(buf)
	if err != nil {
		return nil, err
	}
	p.header = h
	return h, nil
}

// TMD reads and parses this partition's Title Metadata record.
func (p *Partition) TMD() (*discfmt.TMD, error) {
	h, err := p.Header()
	if err != nil {
		return nil, err
	}
	buf, err := p.disc.readAt(p.Offset+h.TMDOffset(), h.TMDSize())
	if err != nil {
		return nil, err
	}
	return discfmt.ParseTMD(buf)
}

// H3Table reads and returns this partition's raw H3 hash table
// (discfmt.H3Size bytes; only the first NumGroups entries are live).
func (p *Partition) H3Table() ([]byte, error) {
	h, err := p.Header()
	if err != nil {
		return nil, err
	}
	return p.disc.readAt(p.Offset+h.H3Offset(), discfmt.H3Size)
}

// H3 returns the i'th group's stored H3 hash from the partition's H3
// table (spec §4.11 "compare group hashes to H3").
func (p *Partition) H3(i int64) ([wcrypto.HashSize]byte, error) {
	var out [wcrypto.HashSize]byte
	table, err := p.H3Table()
	if err != nil {
		return out, err
	}
	off := i * wcrypto.HashSize
	if off < 0 || off+wcrypto.HashSize > int64(len(table)) {
		return out, &werr.Error{Kind: werr.InvalidLayout, At: fmt.Sprintf("H3 entry %d out of range", i)}
	}
	copy(out[:], table[off:off+wcrypto.HashSize])
	return out, nil
}

// TitleKey decrypts this partition's AES title key from its ticket,
// using the common key selected by the ticket's CommonKeyIndex.
func (p *Partition) TitleKey(keys CommonKeys) ([wcrypto.KeySize]byte, error) {
	h, err := p.Header()
	if err != nil {
		return [wcrypto.KeySize]byte{}, err
	}
	t := h.Ticket()
	common, ok := keys[t.CommonKeyIndex()]
	if !ok {
		return [wcrypto.KeySize]byte{}, &werr.Error{Kind: werr.Unsupported, At: "common key index", Err: fmt.Errorf("index %d", t.CommonKeyIndex())}
	}
	return wcrypto.DecryptTitleKey(common, t.TitleID(), t.WrappedTitleKey())
}

// NumGroups returns the number of 2 MiB hash-tree groups covering this
// partition's data region.
func (p *Partition) NumGroups() (int64, error) {
	h, err := p.Header()
	if err != nil {
		return 0, err
	}
	return h.DataSize() / hashtree.GroupSize, nil
}

// ReadGroup reads and decrypts the i'th group of this partition's
// data.
func (p *Partition) ReadGroup(i int64, titleKey [wcrypto.KeySize]byte) (*hashtree.Group, error) {
	h, err := p.Header()
	if err != nil {
		return nil, err
	}
	n, err := p.NumGroups()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= n {
		return nil, &werr.Error{Kind: werr.InvalidLayout, At: fmt.Sprintf("group %d out of range [0,%d)", i, n)}
	}
	off := p.Offset + h.DataOffset() + i*hashtree.GroupSize
	raw, err := p.disc.readAt(off, hashtree.GroupSize)
	if err != nil {
		return nil, err
	}
	return hashtree.DecryptGroup(titleKey, raw)
}

// decryptedReader streams a partition's decrypted data group by group,
// buffering one group (2 MiB) at a time.
type decryptedReader struct {
	p        *Partition
	titleKey [wcrypto.KeySize]byte
	group    int64
	nGroups  int64
	buf      []byte
	bufOff   int
}

// DecryptedReader returns a streaming reader over the partition's
// decrypted data region, starting from group 0.
func (p *Partition) DecryptedReader(titleKey [wcrypto.KeySize]byte) (io.Reader, error) {
	n, err := p.NumGroups()
	if err != nil {
		return nil, err
	}
	return &decryptedReader{p: p, titleKey: titleKey, nGroups: n}, nil
}

func (r *decryptedReader) Read(out []byte) (int, error) {
	if len(r.buf)-r.bufOff == 0 {
		if r.group >= r.nGroups {
			return 0, io.EOF
		}
		g, err := r.p.ReadGroup(r.group, r.titleKey)
		if err != nil {
			return 0, err
		}
		r.group++
		r.buf = r.buf[:0]
		for _, sec := range g.Sectors {
			r.buf = append(r.buf, sec.Data()...)
		}
		r.bufOff = 0
	}
	n := copy(out, r.buf[r.bufOff:])
	r.bufOff += n
	return n, nil
}

// Boot reads and parses the partition's boot.bin, decrypting only as
// many groups as needed (boot.bin always lies within group 0).
func (p *Partition) Boot(titleKey [wcrypto.KeySize]byte) (*discfmt.Boot, error) {
	g, err := p.ReadGroup(0, titleKey)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, discfmt.BootSize)
	for _, sec := range g.Sectors {
		buf = append(buf, sec.Data()...)
		if len(buf) >= discfmt.BootSize {
			break
		}
	}
	return discfmt.ParseBoot(buf[:discfmt.BootSize])
}

// FST decrypts and parses this partition's file system table into a
// navigable tree (spec §4.5/§6).
func (p *Partition) FST(titleKey [wcrypto.KeySize]byte) (*fst.Tree, error) {
	boot, err := p.Boot(titleKey)
	if err != nil {
		return nil, err
	}

	r, err := p.DecryptedReader(titleKey)
	if err != nil {
		return nil, err
	}
	if _, err := io.CopyN(io.Discard, r, boot.FSTOffset()); err != nil {
		return nil, werr.Io("fst seek", err)
	}
	buf := make([]byte, boot.FSTSize())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, werr.Io("fst read", err)
	}
	return ParseWireFST(buf)
}

// ParseWireFST decodes a raw FST buffer (the 12-byte entry array
// followed by its NUL-terminated string pool, spec §3/§6) into a
// fst.Tree.
func ParseWireFST(buf []byte) (*fst.Tree, error) {
	if len(buf) < discfmt.FSTEntrySize {
		return nil, &werr.Error{Kind: werr.TooSmall, At: "fst"}
	}
	root, err := discfmt.ParseFSTEntry(buf[:discfmt.FSTEntrySize])
	if err != nil {
		return nil, err
	}
	nEntries := int(root.Size())
	if nEntries < 1 || nEntries*discfmt.FSTEntrySize > len(buf) {
		return nil, &werr.Error{Kind: werr.InvalidLayout, At: "fst entry count"}
	}
	strPool := buf[nEntries*discfmt.FSTEntrySize:]

	name := func(off uint32) string {
		end := int(off)
		for end < len(strPool) && strPool[end] != 0 {
			end++
		}
		if int(off) > len(strPool) {
			return ""
		}
		return string(strPool[off:end])
	}

	tree := fst.NewTree()

	// stack of (dirIndex, pathPrefix) to resolve nested paths while
	// walking the flat entry array in order, mirroring how the console
	// itself reads an FST (spec §3: directory entries store their
	// next-sibling index, letting a linear scan reconstruct nesting).
	type frame struct {
		endIdx int
		prefix string
	}
	stack := []frame{{endIdx: nEntries, prefix: ""}}

	for i := 1; i < nEntries; i++ {
		for len(stack) > 1 && i >= stack[len(stack)-1].endIdx {
			stack = stack[:len(stack)-1]
		}
		prefix := stack[len(stack)-1].prefix

		e, err := discfmt.ParseFSTEntry(buf[i*discfmt.FSTEntrySize : (i+1)*discfmt.FSTEntrySize])
		if err != nil {
			return nil, err
		}
		nm := name(e.NameOffset())
		path := nm
		if prefix != "" {
			path = prefix + "/" + nm
		}

		if e.Flag() == discfmt.FSTDir {
			next := int(e.Size())
			if err := tree.Map(path, fst.CustomFile(fst.CustomFileArgs{Name: nm, IsDir: true})); err != nil {
				return nil, err
			}
			stack = append(stack, frame{endIdx: next, prefix: path})
		} else {
			f := fst.CustomFile(fst.CustomFileArgs{Name: nm, Size: int64(e.Size())})
			if err := tree.Map(path, f); err != nil {
				return nil, err
			}
		}
	}

	return tree, nil
}
