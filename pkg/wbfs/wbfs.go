// Container layout (spec §4.7-§4.10): hd-sector 0 holds the Header
// (magic, geometry, slot table); immediately after it come MaxSlots
// fixed-stride DiscInfo blocks, one per slot; then the shared FBT
// bitmap; then the WBFS block data area itself. This is a
// reconstruction of the original format's spirit (header + disc table
// + per-disc WLBA tables + free-block bitmap + block pool) rather than
// a byte-exact port, since the original computes its FBT/data offsets
// dynamically from part_lba and freeblks_lba at runtime in ways the
// retrieved source does not fully resolve; the exact stride and FBT
// placement are an Open Question decision recorded in DESIGN.md.
package wbfs

import (
	"fmt"
	"io"

	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// Container is an open WBFS multi-disc store.
type Container struct {
	rw     io.ReadWriteSeeker
	header *Header

	maxSlots      int
	nWbfsSec      int
	blocksPerDisc int // fixed WLBA-table entry count per slot (spec §3 wbfs_blocks_per_disc)
	discInfoSize  int64
	discStride    int64
	fbtOffset     int64
	dataOffset    int64

	fbt       *FBT
	Policy    Policy
	lastAlloc int
}

func (c *Container) wbfsSectorSize() int64 { return c.header.WBFSSectorSize() }
func (c *Container) hdSectorSize() int64   { return c.header.HDSectorSize() }

func (c *Container) slotOffset(slot int) int64 {
	return c.hdSectorSize() + int64(slot)*c.discStride
}

func (c *Container) blockOffset(block int) int64 {
	return c.dataOffset + int64(block)*c.wbfsSectorSize()
}

// layout derives every offset from the container's actual WBFS block
// count (nWbfsSec, for FBT sizing) and the fixed per-disc block count
// (blocksPerDisc, for WLBA table sizing) — the two are independent:
// adding more physical capacity never changes how big a slot is.
func (c *Container) layout(nWbfsSec int) {
	c.nWbfsSec = nWbfsSec
	c.blocksPerDisc = BlocksPerDisc(c.wbfsSectorSize())
	c.discInfoSize = int64(DiscInfoSize(c.blocksPerDisc))
	c.discStride = wbinAlign(c.discInfoSize, c.wbfsSectorSize())
	c.fbtOffset = c.hdSectorSize() + int64(c.maxSlots)*c.discStride
	fbtSize := wbinAlign(int64((nWbfsSec+7)/8), c.wbfsSectorSize())
	c.dataOffset = c.fbtOffset + fbtSize
}

func wbinAlign(n, align int64) int64 {
	if align <= 0 {
		return n
	}
	return (n + align - 1) &^ (align - 1)
}

// Create initializes a fresh, empty WBFS container over rw, which must
// already be sized to hold nHDSec hd-sectors of hdSectorSize bytes.
func Create(rw io.ReadWriteSeeker, nHDSec uint32, hdSecSzShift, wbfsSecSzShift uint8) (*Container, error) {
	hdSectorSize := int64(1) << hdSecSzShift
	buf := make([]byte, hdSectorSize)
	h := InitHeader(buf, nHDSec, hdSecSzShift, wbfsSecSzShift)

	c := &Container{rw: rw, header: h}
	discInfoSize := int64(DiscInfoSize(BlocksPerDisc(c.wbfsSectorSize())))
	c.maxSlots = MaxSlots(hdSectorSize, discInfoSize, int64(nHDSec)*hdSectorSize)
	nWbfsSec := int(h.NWbfsSec())
	c.layout(nWbfsSec)
	c.fbt = NewFBT(nWbfsSec)

	// reserve the blocks occupied by the header/disc-table/fbt region
	// itself so FindFree never hands them out.
	reserved := int((c.dataOffset + c.wbfsSectorSize() - 1) / c.wbfsSectorSize())
	for i := 0; i < reserved && i < nWbfsSec; i++ {
		c.fbt.Alloc(i)
	}
	c.lastAlloc = reserved - 1

	if _, err := rw.Seek(0, io.SeekStart); err != nil {
		return nil, werr.Io("wbfs header seek", err)
	}
	if _, err := rw.Write(buf); err != nil {
		return nil, werr.Io("wbfs header write", err)
	}
	if err := c.writeFBT(); err != nil {
		return nil, err
	}
	return c, nil
}

// Open reads an existing WBFS container's header and free-block table.
func Open(rw io.ReadWriteSeeker) (*Container, error) {
	if _, err := rw.Seek(0, io.SeekStart); err != nil {
		return nil, werr.Io("wbfs header seek", err)
	}
	// read a generous first chunk to cover header + disc table; hd
	// sector size is unknown until parsed, so probe with a fixed 64
	// KiB read, large enough for any realistic hd_sec_sz.
	probe := make([]byte, 64*1024)
	n, err := io.ReadFull(rw, probe)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, werr.Io("wbfs header read", err)
	}
	h, err := ParseHeader(probe[:n])
	if err != nil {
		return nil, err
	}

	c := &Container{rw: rw, header: h}
	discInfoSize := int64(DiscInfoSize(BlocksPerDisc(c.wbfsSectorSize())))
	c.maxSlots = MaxSlots(h.HDSectorSize(), discInfoSize, int64(h.NHDSec())*h.HDSectorSize())
	c.layout(int(h.NWbfsSec()))

	if err := c.readFBT(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Container) readFBT() error {
	buf := make([]byte, (c.nWbfsSec+7)/8)
	if _, err := c.rw.Seek(c.fbtOffset, io.SeekStart); err != nil {
		return werr.Io("fbt seek", err)
	}
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return werr.Io("fbt read", err)
	}
	c.fbt = ParseFBT(buf, c.nWbfsSec)
	return nil
}

func (c *Container) writeFBT() error {
	if _, err := c.rw.Seek(c.fbtOffset, io.SeekStart); err != nil {
		return werr.Io("fbt seek", err)
	}
	if _, err := c.rw.Write(c.fbt.Bytes()); err != nil {
		return werr.Io("fbt write", err)
	}
	return nil
}

// NWbfsSec returns the total number of WBFS blocks in the container.
func (c *Container) NWbfsSec() int { return c.nWbfsSec }

// FreeBlocks returns the number of currently unallocated WBFS blocks.
func (c *Container) FreeBlocks() int { return c.fbt.Count() }

func (c *Container) readDiscTable() ([]byte, error) {
	buf := make([]byte, c.maxSlots)
	if _, err := c.rw.Seek(HeaderDiscTableOff, io.SeekStart); err != nil {
		return nil, werr.Io("disc table seek", err)
	}
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, werr.Io("disc table read", err)
	}
	return buf, nil
}

func (c *Container) writeSlotByte(slot int, v byte) error {
	if _, err := c.rw.Seek(int64(HeaderDiscTableOff+slot), io.SeekStart); err != nil {
		return werr.Io("disc table seek", err)
	}
	if _, err := c.rw.Write([]byte{v}); err != nil {
		return werr.Io("disc table write", err)
	}
	return nil
}

func (c *Container) readSlotInfo(slot int) (*DiscInfo, error) {
	buf := make([]byte, c.discInfoSize)
	if _, err := c.rw.Seek(c.slotOffset(slot), io.SeekStart); err != nil {
		return nil, werr.Io("slot seek", err)
	}
	if _, err := io.ReadFull(c.rw, buf); err != nil {
		return nil, werr.Io("slot read", err)
	}
	return ParseDiscInfo(buf, c.blocksPerDisc)
}

func (c *Container) writeSlotInfo(slot int, di *DiscInfo) error {
	if _, err := c.rw.Seek(c.slotOffset(slot), io.SeekStart); err != nil {
		return werr.Io("slot seek", err)
	}
	if _, err := c.rw.Write(di.Raw); err != nil {
		return werr.Io("slot write", err)
	}
	return nil
}

// Slot pairs a slot index with its id6, for listing.
type Slot struct {
	Index int
	ID6   string
	Title string
}

// List returns every occupied slot.
func (c *Container) List() ([]Slot, error) {
	table, err := c.readDiscTable()
	if err != nil {
		return nil, err
	}
	var out []Slot
	for i, occupied := range table {
		if occupied == 0 {
			continue
		}
		di, err := c.readSlotInfo(i)
		if err != nil {
			return nil, err
		}
		h := di.DiscHeader()
		out = append(out, Slot{Index: i, ID6: h.ID6(), Title: h.Title()})
	}
	return out, nil
}

func (c *Container) findSlotByID6(id6 string) (int, *DiscInfo, error) {
	table, err := c.readDiscTable()
	if err != nil {
		return 0, nil, err
	}
	for i, occupied := range table {
		if occupied == 0 {
			continue
		}
		di, err := c.readSlotInfo(i)
		if err != nil {
			return 0, nil, err
		}
		if di.DiscHeader().ID6() == id6 {
			return i, di, nil
		}
	}
	return 0, nil, &werr.Error{Kind: werr.SlotNotFound, At: id6}
}

// AddDisc streams discSize bytes from r into a freshly allocated set
// of WBFS blocks under a new slot, following the commit order from
// spec §4.10: data and the WLBA table are written first, and the slot
// table byte is written last so a crash mid-copy leaves the slot
// looking unoccupied rather than half-written.
//
// used, if non-nil, is a Wii-sector-granularity (discfmt.SectorSize)
// usage bitmap spanning discSize bytes — see disc.Disc's sector usage
// bitmap — identifying which parts of the disc actually hold live data
// (spec §4.5 steps 1-3). Virtual WBFS blocks that cover no used sector
// are never allocated from the free-block table or written to disk;
// their WLBA entry stays 0 ("unused"), sparsifying the output the same
// way a scrubbed/trimmed disc image does. Passing nil allocates and
// writes every nominal block densely, as if every sector were used.
func (c *Container) AddDisc(id6, title string, r io.Reader, discSize int64, used []bool) error {
	if _, _, err := c.findSlotByID6(id6); err == nil {
		return &werr.Error{Kind: werr.SlotOccupied, At: id6}
	}

	table, err := c.readDiscTable()
	if err != nil {
		return err
	}
	slot := -1
	for i, occupied := range table {
		if occupied == 0 {
			slot = i
			break
		}
	}
	if slot < 0 {
		return &werr.Error{Kind: werr.WbfsFull, At: "no free slot"}
	}

	nBlocks := int((discSize + c.wbfsSectorSize() - 1) / c.wbfsSectorSize())
	if nBlocks > c.blocksPerDisc {
		return &werr.Error{Kind: werr.InvalidLayout, At: fmt.Sprintf("disc needs %d blocks, exceeds wbfs_blocks_per_disc %d", nBlocks, c.blocksPerDisc)}
	}
	wiiSectorsPerBlock := int(c.wbfsSectorSize() / discfmt.SectorSize)
	blockUsed := reduceBlockUsage(used, nBlocks, wiiSectorsPerBlock)

	blocks := make([]int, nBlocks) // 0 = virtual hole, never allocated
	var allocated []int
	for i := 0; i < nBlocks; i++ {
		if !blockUsed[i] {
			continue
		}
		b, ok := c.fbt.FindFree(c.Policy, c.lastAlloc)
		if !ok {
			for _, used := range allocated {
				c.fbt.Free(used)
			}
			return &werr.Error{Kind: werr.WbfsFull, At: fmt.Sprintf("need up to %d blocks", nBlocks)}
		}
		c.fbt.Alloc(b)
		blocks[i] = b
		allocated = append(allocated, b)
		c.lastAlloc = b
	}

	buf := make([]byte, c.discInfoSize)
	di := InitDiscInfo(buf, c.blocksPerDisc, id6, title)
	for i, b := range blocks {
		if b != 0 {
			di.SetWLBA(i, uint16(b))
		}
	}

	remaining := discSize
	block := make([]byte, c.wbfsSectorSize())
	for i := 0; i < nBlocks; i++ {
		n := int64(len(block))
		if remaining < n {
			n = remaining
		}
		if blocks[i] == 0 {
			// unused virtual block: drain r's corresponding bytes
			// without ever touching disk, so later blocks still line up.
			if n > 0 {
				if _, err := io.CopyN(io.Discard, r, n); err != nil {
					return werr.Io("disc data read", err)
				}
			}
			remaining -= n
			continue
		}
		if n < int64(len(block)) {
			for j := range block {
				block[j] = 0
			}
		}
		if n > 0 {
			if _, err := io.ReadFull(r, block[:n]); err != nil {
				return werr.Io("disc data read", err)
			}
		}
		if _, err := c.rw.Seek(c.blockOffset(blocks[i]), io.SeekStart); err != nil {
			return werr.Io("block seek", err)
		}
		if _, err := c.rw.Write(block); err != nil {
			return werr.Io("block write", err)
		}
		remaining -= n
	}

	if err := c.writeSlotInfo(slot, di); err != nil {
		return err
	}
	if err := c.writeFBT(); err != nil {
		return err
	}
	return c.writeSlotByte(slot, 1)
}

// RemoveDisc frees a disc's blocks and clears its slot. The slot byte
// is cleared first so the slot is immediately unlisted even if freeing
// the FBT bits is interrupted; Check/Repair reconciles any leaked
// blocks this leaves behind.
func (c *Container) RemoveDisc(id6 string) error {
	slot, di, err := c.findSlotByID6(id6)
	if err != nil {
		return err
	}
	if err := c.writeSlotByte(slot, 0); err != nil {
		return err
	}
	for _, b := range di.UsedBlocks() {
		c.fbt.Free(int(b))
	}
	return c.writeFBT()
}

// RenameDisc updates a disc's stored title without touching its data.
func (c *Container) RenameDisc(id6, newTitle string) error {
	slot, di, err := c.findSlotByID6(id6)
	if err != nil {
		return err
	}
	di.DiscHeader().SetTitle(newTitle)
	return c.writeSlotInfo(slot, di)
}

// DiscReader returns a reader streaming the disc's WLBA-mapped blocks
// back out in virtual order, reconstructing its original byte stream.
func (c *Container) DiscReader(id6 string) (io.Reader, int64, error) {
	_, di, err := c.findSlotByID6(id6)
	if err != nil {
		return nil, 0, err
	}
	return &discBlockReader{c: c, di: di}, int64(len(di.UsedBlocks())) * c.wbfsSectorSize(), nil
}

type discBlockReader struct {
	c      *Container
	di     *DiscInfo
	i      int
	buf    []byte
	bufOff int
}

func (r *discBlockReader) Read(p []byte) (int, error) {
	if len(r.buf)-r.bufOff == 0 {
		if r.i >= r.di.BlocksPerDisc {
			return 0, io.EOF
		}
		phys := r.di.WLBA(r.i)
		r.i++
		if phys == 0 {
			r.buf = make([]byte, r.c.wbfsSectorSize())
			r.bufOff = 0
			return r.Read(p)
		}
		r.buf = make([]byte, r.c.wbfsSectorSize())
		if _, err := r.c.rw.Seek(r.c.blockOffset(int(phys)), io.SeekStart); err != nil {
			return 0, werr.Io("disc block seek", err)
		}
		if _, err := io.ReadFull(r.c.rw, r.buf); err != nil {
			return 0, werr.Io("disc block read", err)
		}
		r.bufOff = 0
	}
	n := copy(p, r.buf[r.bufOff:])
	r.bufOff += n
	return n, nil
}
