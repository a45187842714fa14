// Package memmap implements a sorted, non-overlapping list of
// (offset, size) intervals tagged with an arbitrary source value,
// grounded on the MemMap_t / InsertMemMap family used throughout
// original_source/project/src/iso-interface.c and wbfs-interface.c to
// track which byte ranges of a disc image are "claimed" by which
// structure (boot.bin, FST, partition N's data, ...).
//
// The composer (component C6) uses a Map[Source] to assemble an
// IsoMapping describing where each virtual-disc region comes from; it
// is the only user of this package.
package memmap

import (
	"fmt"
	"sort"
)

// Item is one interval in the map.
type Item struct {
	Offset int64
	Size   int64
	Source interface{}
}

// End returns Offset+Size.
func (it Item) End() int64 { return it.Offset + it.Size }

// Map is a sorted list of non-overlapping intervals.
type Map struct {
	items []Item
}

// New returns an empty map.
func New() *Map { return &Map{} }

// Len returns the number of intervals currently tracked.
func (m *Map) Len() int { return len(m.items) }

// Items returns the intervals in offset order. The slice must not be
// mutated by the caller.
func (m *Map) Items() []Item { return m.items }

// search returns the index of the first item whose Offset is >= off.
func (m *Map) search(off int64) int {
	return sort.Search(len(m.items), func(i int) bool {
		return m.items[i].Offset >= off
	})
}

// Insert adds a new interval, returning an error if it overlaps an
// existing one. A zero-size interval is allowed and used as a marker
// (spec §4.6, following InsertMemMap(mm, off, 0) in the original
// source to record a bare offset such as a section's end).
func (m *Map) Insert(off, size int64, source interface{}) error {
	i := m.search(off)
	if i > 0 {
		prev := m.items[i-1]
		if prev.Size > 0 && prev.End() > off {
			return fmt.Errorf("memmap: [%d,%d) overlaps existing [%d,%d)", off, off+size, prev.Offset, prev.End())
		}
	}
	if size > 0 && i < len(m.items) && m.items[i].Offset < off+size {
		return fmt.Errorf("memmap: [%d,%d) overlaps existing [%d,%d)", off, off+size, m.items[i].Offset, m.items[i].End())
	}
	item := Item{Offset: off, Size: size, Source: source}
	m.items = append(m.items, Item{})
	copy(m.items[i+1:], m.items[i:])
	m.items[i] = item
	return nil
}

// InsertTie behaves like Insert but allows a new zero-size marker to
// land exactly on an existing interval's offset or end (the "tie"
// behaviour of InsertMemMapTie in the original source, used when
// recording both a section's start and its exclusive end as separate
// zero-size markers).
func (m *Map) InsertTie(off, size int64, source interface{}) error {
	if size == 0 {
		item := Item{Offset: off, Size: 0, Source: source}
		i := m.search(off)
		m.items = append(m.items, Item{})
		copy(m.items[i+1:], m.items[i:])
		m.items[i] = item
		return nil
	}
	return m.Insert(off, size, source)
}

// Find returns the interval covering offset off, if any.
func (m *Map) Find(off int64) (Item, bool) {
	i := m.search(off + 1)
	if i == 0 {
		return Item{}, false
	}
	it := m.items[i-1]
	if it.Offset <= off && off < it.End() {
		return it, true
	}
	if it.Offset == off {
		return it, true
	}
	return Item{}, false
}

// FindFree returns the offset of the first gap of at least minSize
// bytes at or after off, scanning the sorted interval list. limit
// bounds the search (the size of the region being allocated within);
// ok is false if no such gap exists before limit.
func (m *Map) FindFree(off, minSize, limit int64) (int64, bool) {
	cur := off
	for _, it := range m.items {
		if it.Offset < cur {
			if it.End() > cur {
				cur = it.End()
			}
			continue
		}
		if it.Offset-cur >= minSize {
			return cur, true
		}
		if it.End() > cur {
			cur = it.End()
		}
	}
	if limit-cur >= minSize {
		return cur, true
	}
	return 0, false
}

// Reset discards all intervals.
func (m *Map) Reset() { m.items = nil }
