package wbfs

// FBT is the shared free-block bitmap: one bit per WBFS block, 1 =
// free, grounded on the fbt_off/freeblks_lba bookkeeping in
// original_source/project/src/wbfs-interface.c's consistency-check and
// repair routines, which reconstruct this same bitmap from the slot
// table's WLBA entries when it disagrees with them.
type FBT struct {
	bits []byte
	n    int
}

// NewFBT returns a bitmap for n blocks, all initially free.
func NewFBT(n int) *FBT {
	f := &FBT{bits: make([]byte, (n+7)/8), n: n}
	for i := range f.bits {
		f.bits[i] = 0xff
	}
	// clear any padding bits beyond n so Count stays exact
	for i := n; i < len(f.bits)*8; i++ {
		f.clear(i)
	}
	return f
}

// ParseFBT wraps an existing bitmap buffer covering n blocks.
func ParseFBT(b []byte, n int) *FBT {
	buf := make([]byte, (n+7)/8)
	copy(buf, b)
	return &FBT{bits: buf, n: n}
}

// Bytes returns the raw bitmap, ready to write back to disk.
func (f *FBT) Bytes() []byte { return f.bits }

// N returns the number of blocks tracked.
func (f *FBT) N() int { return f.n }

// IsFree reports whether block i is currently free.
func (f *FBT) IsFree(i int) bool {
	return f.bits[i/8]&(1<<uint(i%8)) != 0
}

func (f *FBT) set(i int)   { f.bits[i/8] |= 1 << uint(i%8) }
func (f *FBT) clear(i int) { f.bits[i/8] &^= 1 << uint(i%8) }

// Alloc marks block i as used.
func (f *FBT) Alloc(i int) { f.clear(i) }

// Free marks block i as free.
func (f *FBT) Free(i int) { f.set(i) }

// Count returns the number of currently free blocks.
func (f *FBT) Count() int {
	n := 0
	for i := 0; i < f.n; i++ {
		if f.IsFree(i) {
			n++
		}
	}
	return n
}

// Policy selects how FindFree chooses among multiple free blocks
// (spec §4.9 "allocation policies").
type Policy int

const (
	// PolicyFirst always returns the lowest-numbered free block.
	PolicyFirst Policy = iota
	// PolicyAuto behaves like PolicyFirst but additionally prefers
	// extending the most recent allocation contiguously when possible,
	// a cheap approximation of the original tool's default heuristic.
	PolicyAuto
	// PolicyAvoidFrag scans for the longest free run and allocates
	// from its start, trading scan cost for fewer fragmented discs.
	PolicyAvoidFrag
)

// FindFree returns the next block to allocate under the given policy.
// hint is the previously allocated block (for PolicyAuto's contiguous
// preference), or -1 if there is none yet.
func (f *FBT) FindFree(policy Policy, hint int) (int, bool) {
	switch policy {
	case PolicyAuto:
		if hint >= 0 && hint+1 < f.n && f.IsFree(hint+1) {
			return hint + 1, true
		}
		return f.findFirst()
	case PolicyAvoidFrag:
		return f.findLongestRunStart()
	default:
		return f.findFirst()
	}
}

func (f *FBT) findFirst() (int, bool) {
	for i := 0; i < f.n; i++ {
		if f.IsFree(i) {
			return i, true
		}
	}
	return 0, false
}

func (f *FBT) findLongestRunStart() (int, bool) {
	bestStart, bestLen := -1, 0
	curStart, curLen := -1, 0
	for i := 0; i < f.n; i++ {
		if f.IsFree(i) {
			if curLen == 0 {
				curStart = i
			}
			curLen++
			if curLen > bestLen {
				bestLen, bestStart = curLen, curStart
			}
		} else {
			curLen = 0
		}
	}
	if bestStart < 0 {
		return 0, false
	}
	return bestStart, true
}
