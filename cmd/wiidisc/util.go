package main

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/wiidisc/wiidisc/pkg/container"
	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/facade"
	"github.com/wiidisc/wiidisc/pkg/splitfile"
	"github.com/wiidisc/wiidisc/pkg/wbfs"
)

func parseHexKey(s string) ([16]byte, error) {
	var out [16]byte
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != 16 {
		return out, fmt.Errorf("want 16 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

// openSource resolves one disc argument to a facade.Source. Accepted
// forms (spec §4.8):
//
//	path.iso              plain disc image
//	path.ciso             a CISO-compressed container
//	path.wbf1 (or similar) the first member of a split-file set
//	container.wbfs#ID6    one slot inside a WBFS container
func openSource(arg string) (facade.Source, error) {
	if path, id6, ok := strings.Cut(arg, "#"); ok {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			return nil, err
		}
		c, err := wbfs.Open(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		return facade.OpenWBFSSlot(c, id6)
	}

	if looksLikeSplitMember(arg) {
		base := stripSplitSuffix(arg)
		var opener splitfile.Opener = func(i int) (io.ReadCloser, error) {
			return os.Open(fmt.Sprintf("%s.wbf%d", base, i+1))
		}
		totalSize, splitSize, err := splitSetSize(base)
		if err != nil {
			return nil, err
		}
		return facade.OpenSplit(opener, splitSize, totalSize), nil
	}

	if strings.EqualFold(filepathExt(arg), ".ciso") {
		f, err := os.Open(arg)
		if err != nil {
			return nil, err
		}
		cr, err := container.NewReader(f)
		if err != nil {
			f.Close()
			return nil, err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		return facade.OpenContainer(cr, fi.Size()), nil
	}

	return facade.OpenPlainFile(arg)
}

func filepathExt(p string) string {
	i := strings.LastIndexByte(p, '.')
	if i < 0 {
		return ""
	}
	return p[i:]
}

func looksLikeSplitMember(p string) bool {
	return strings.Contains(strings.ToLower(p), ".wbf")
}

// splitSetSize stats consecutive "<base>.wbf<n>" members to find the
// uniform split size and total size of the set.
func splitSetSize(base string) (total, splitSize int64, err error) {
	for i := 1; ; i++ {
		fi, statErr := os.Stat(fmt.Sprintf("%s.wbf%d", base, i))
		if statErr != nil {
			if i == 1 {
				return 0, 0, statErr
			}
			break
		}
		if i == 1 {
			splitSize = fi.Size()
		}
		total += fi.Size()
	}
	return total, splitSize, nil
}

func stripSplitSuffix(p string) string {
	i := strings.LastIndex(strings.ToLower(p), ".wbf")
	if i < 0 {
		return p
	}
	return p[:i]
}

// asReadSeeker adapts a facade.Source to io.ReadSeeker for callers
// (disc.Open) that only need sequential access with the occasional
// seek back to re-read the partition table.
type asReadSeeker struct {
	src facade.Source
	pos int64
}

func (r *asReadSeeker) Read(p []byte) (int, error) {
	n, err := r.src.ReadAt(p, r.pos)
	r.pos += int64(n)
	return n, err
}

func (r *asReadSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.pos + offset
	case io.SeekEnd:
		abs = r.src.Size() + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	r.pos = abs
	return abs, nil
}

func openDisc(arg string) (*disc.Disc, facade.Source, error) {
	src, err := openSource(arg)
	if err != nil {
		return nil, nil, err
	}
	d, err := disc.Open(&asReadSeeker{src: src})
	if err != nil {
		src.Close()
		return nil, nil, err
	}
	return d, src, nil
}

// sourceUsedSectorBitmap best-effort parses arg as a Wii disc image and
// derives its used-sector bitmap (spec §4.5), for sparsifying a
// subsequent WBFS add. Returns nil — meaning "treat every sector as
// used" — whenever arg isn't a parseable disc (e.g. a raw GameCube
// image, or a format disc.Open rejects), since sparsification is an
// optimization, never a correctness requirement.
func sourceUsedSectorBitmap(arg string, keys disc.CommonKeys) []bool {
	d, src, err := openDisc(arg)
	if err != nil {
		return nil
	}
	defer src.Close()
	if !d.Header().IsWii() {
		return nil
	}
	parts, err := d.Partitions()
	if err != nil {
		return nil
	}
	return d.UsedSectorBitmap(parts, keys, src.Size())
}
