package facade

import (
	"os"

	"github.com/wiidisc/wiidisc/pkg/compose"
	"github.com/wiidisc/wiidisc/pkg/container"
	"github.com/wiidisc/wiidisc/pkg/splitfile"
	"github.com/wiidisc/wiidisc/pkg/wbfs"
	"github.com/wiidisc/wiidisc/pkg/werr"
)

// OpenPlainFile opens path and wraps it as a Source, stat-ing it for
// its size.
func OpenPlainFile(path string) (Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, werr.Io("open "+path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, werr.Io("stat "+path, err)
	}
	return FromFile(f, fi.Size()), nil
}

// OpenSplit wraps a split file set (spec §4.8) as a Source.
func OpenSplit(open splitfile.Opener, splitSize, totalSize int64) Source {
	r := splitfile.NewReader(open, splitSize, totalSize)
	return FromReaderAt(r, totalSize)
}

// OpenContainer wraps an already-parsed CISO container as a Source.
// totalSize is the container's unpacked logical size, recorded
// separately from the header since the header only tracks block
// presence, not the original image length.
func OpenContainer(r *container.Reader, totalSize int64) Source {
	return FromReaderAt(r, totalSize)
}

// OpenWBFSSlot streams one WBFS-hosted disc through its container,
// exposed as a Source. WBFS discs are read block-indirectly through
// the slot's WLBA table (spec §4.8), which this module only streams
// forward, so random access here is forward-only per seqSource's
// contract.
func OpenWBFSSlot(c *wbfs.Container, id6 string) (Source, error) {
	r, size, err := c.DiscReader(id6)
	if err != nil {
		return nil, err
	}
	return FromSequential("wbfs:"+id6, r, size), nil
}

// OpenComposed wraps a freshly built virtual-disc Layout as a Source,
// so the facade can serve reads against an uncommitted composition the
// same way it serves an on-disk image (spec §4.8 "composed virtual
// disc").
func OpenComposed(l *compose.Layout) Source {
	return FromReaderAt(readAtFunc(l.ReadAt), l.DataSize)
}

// readAtFunc adapts a bare ReadAt method value to io.ReaderAt.
type readAtFunc func(p []byte, off int64) (int, error)

func (f readAtFunc) ReadAt(p []byte, off int64) (int, error) { return f(p, off) }
