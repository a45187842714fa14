package fuseview

import (
	"context"
	"fmt"
	"io"
	"strings"
	"syscall"

	"bazil.org/fuse"
	"bazil.org/fuse/fs"

	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/fst"
)

// rootDir is "/": "iso" (only when the view wraps a single disc) and
// "wbfs" (spec §4.9's two top-level trees).
type rootDir struct {
	fs *FS
}

var (
	_ fs.Node                = (*rootDir)(nil)
	_ fs.NodeStringLookuper  = (*rootDir)(nil)
	_ fs.HandleReadDirAller  = (*rootDir)(nil)
)

func (d *rootDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *rootDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	var ents []fuse.Dirent
	if len(d.fs.slots) == 1 {
		ents = append(ents, fuse.Dirent{Name: "iso", Type: fuse.DT_Dir})
	}
	ents = append(ents, fuse.Dirent{Name: "wbfs", Type: fuse.DT_Dir})
	return ents, nil
}

func (d *rootDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	switch name {
	case "iso":
		if len(d.fs.slots) != 1 {
			return nil, syscall.ENOENT
		}
		return &discDir{fs: d.fs, slot: 0}, nil
	case "wbfs":
		return &wbfsDir{fs: d.fs}, nil
	}
	return nil, syscall.ENOENT
}

// wbfsDir is "/wbfs": "slot", "id", "title".
type wbfsDir struct {
	fs *FS
}

var (
	_ fs.Node               = (*wbfsDir)(nil)
	_ fs.NodeStringLookuper = (*wbfsDir)(nil)
	_ fs.HandleReadDirAller = (*wbfsDir)(nil)
)

func (d *wbfsDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *wbfsDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	return []fuse.Dirent{
		{Name: "slot", Type: fuse.DT_Dir},
		{Name: "id", Type: fuse.DT_Dir},
		{Name: "title", Type: fuse.DT_Dir},
	}, nil
}

func (d *wbfsDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	switch name {
	case "slot":
		return &wbfsSlotsDir{fs: d.fs}, nil
	case "id":
		return &wbfsIndexDir{fs: d.fs, byID: true}, nil
	case "title":
		return &wbfsIndexDir{fs: d.fs, byID: false}, nil
	}
	return nil, syscall.ENOENT
}

// wbfsSlotsDir is "/wbfs/slot": one discDir per live slot, named by
// index (spec §4.9 "/wbfs/slot/<n>/").
type wbfsSlotsDir struct {
	fs *FS
}

var (
	_ fs.Node               = (*wbfsSlotsDir)(nil)
	_ fs.NodeStringLookuper = (*wbfsSlotsDir)(nil)
	_ fs.HandleReadDirAller = (*wbfsSlotsDir)(nil)
)

func (d *wbfsSlotsDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *wbfsSlotsDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents := make([]fuse.Dirent, 0, len(d.fs.slots))
	for _, s := range d.fs.slots {
		ents = append(ents, fuse.Dirent{Name: fmt.Sprintf("%d", s.Index), Type: fuse.DT_Dir})
	}
	return ents, nil
}

func (d *wbfsSlotsDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	for _, s := range d.fs.slots {
		if fmt.Sprintf("%d", s.Index) == name {
			return &discDir{fs: d.fs, slot: s.Index}, nil
		}
	}
	return nil, syscall.ENOENT
}

// wbfsIndexDir is "/wbfs/id" or "/wbfs/title": a flat directory of
// symlinks back into /wbfs/slot/<n> (spec §4.9).
type wbfsIndexDir struct {
	fs   *FS
	byID bool
}

var (
	_ fs.Node               = (*wbfsIndexDir)(nil)
	_ fs.NodeStringLookuper = (*wbfsIndexDir)(nil)
	_ fs.HandleReadDirAller = (*wbfsIndexDir)(nil)
)

func (d *wbfsIndexDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *wbfsIndexDir) name(s Slot) string {
	if d.byID {
		return s.ID6
	}
	if s.Title == "" {
		return s.ID6
	}
	return fmt.Sprintf("%s [%s]", sanitizeName(s.Title), s.ID6)
}

func (d *wbfsIndexDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	ents := make([]fuse.Dirent, 0, len(d.fs.slots))
	for _, s := range d.fs.slots {
		ents = append(ents, fuse.Dirent{Name: d.name(s), Type: fuse.DT_Link})
	}
	return ents, nil
}

func (d *wbfsIndexDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	for _, s := range d.fs.slots {
		if d.name(s) == name {
			return &symlink{target: fmt.Sprintf("../slot/%d", s.Index)}, nil
		}
	}
	return nil, syscall.ENOENT
}

func sanitizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '/' {
			return '_'
		}
		return r
	}, s)
}

// symlink implements fs.NodeReadlinker for the /wbfs/id and
// /wbfs/title aliases.
type symlink struct {
	target string
}

var (
	_ fs.Node            = (*symlink)(nil)
	_ fs.NodeReadlinker  = (*symlink)(nil)
)

func (s *symlink) Attr(ctx context.Context, a *fuse.Attr) error {
	attrLink(a)
	a.Size = uint64(len(s.target))
	return nil
}

func (s *symlink) Readlink(ctx context.Context, req *fuse.ReadlinkRequest) (string, error) {
	return s.target, nil
}

// discDir is one disc's view: "disc.iso" and "part".
type discDir struct {
	fs   *FS
	slot int
}

var (
	_ fs.Node               = (*discDir)(nil)
	_ fs.NodeStringLookuper = (*discDir)(nil)
	_ fs.HandleReadDirAller = (*discDir)(nil)
)

func (d *discDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *discDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	return []fuse.Dirent{
		{Name: "disc.iso", Type: fuse.DT_File},
		{Name: "part", Type: fuse.DT_Dir},
	}, nil
}

func (d *discDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	switch name {
	case "disc.iso":
		return &discImageFile{fs: d.fs, slot: d.slot}, nil
	case "part":
		return &partsDir{fs: d.fs, slot: d.slot}, nil
	}
	return nil, syscall.ENOENT
}

// discImageFile is "disc.iso": the raw source, byte for byte.
type discImageFile struct {
	fs   *FS
	slot int
}

var (
	_ fs.Node         = (*discImageFile)(nil)
	_ fs.HandleReader = (*discImageFile)(nil)
)

func (f *discImageFile) Attr(ctx context.Context, a *fuse.Attr) error {
	_, src, err := f.fs.openSlot(f.slot)
	if err != nil {
		return discErr(err)
	}
	attrFile(a, uint64(src.Size()))
	return nil
}

func (f *discImageFile) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	_, src, err := f.fs.openSlot(f.slot)
	if err != nil {
		return discErr(err)
	}
	buf := make([]byte, req.Size)
	n, err := src.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		return discErr(err)
	}
	resp.Data = buf[:n]
	return nil
}

// partsDir is "part": one sub-directory per partition, named
// "<ptab>.<idx>" (spec §4.9). The disc carries one flattened partition
// table by construction, so ptab is always 0.
type partsDir struct {
	fs   *FS
	slot int
}

var (
	_ fs.Node               = (*partsDir)(nil)
	_ fs.NodeStringLookuper = (*partsDir)(nil)
	_ fs.HandleReadDirAller = (*partsDir)(nil)
)

func (d *partsDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *partsDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	dsc, _, err := d.fs.openSlot(d.slot)
	if err != nil {
		return nil, discErr(err)
	}
	parts, err := dsc.Partitions()
	if err != nil {
		return nil, discErr(err)
	}
	ents := make([]fuse.Dirent, len(parts))
	for i := range parts {
		ents[i] = fuse.Dirent{Name: partitionSegment(0, i), Type: fuse.DT_Dir}
	}
	return ents, nil
}

func (d *partsDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	dsc, _, err := d.fs.openSlot(d.slot)
	if err != nil {
		return nil, discErr(err)
	}
	parts, err := dsc.Partitions()
	if err != nil {
		return nil, discErr(err)
	}
	for i := range parts {
		if partitionSegment(0, i) == name {
			return &partDir{fs: d.fs, slot: d.slot, idx: i}, nil
		}
	}
	return nil, syscall.ENOENT
}

// partDir is "part/<ptab>.<idx>": "info.txt" plus the partition's own
// file tree, materialised on first access and cached for the node's
// lifetime (spec §5's "reads past materialisation are lock-free").
type partDir struct {
	fs   *FS
	slot int
	idx  int

	tree *fst.Tree
}

var (
	_ fs.Node               = (*partDir)(nil)
	_ fs.NodeStringLookuper = (*partDir)(nil)
	_ fs.HandleReadDirAller = (*partDir)(nil)
)

func (d *partDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *partDir) partition() (*disc.Partition, error) {
	dsc, _, err := d.fs.openSlot(d.slot)
	if err != nil {
		return nil, err
	}
	parts, err := dsc.Partitions()
	if err != nil {
		return nil, err
	}
	if d.idx < 0 || d.idx >= len(parts) {
		return nil, syscall.ENOENT
	}
	return parts[d.idx], nil
}

func (d *partDir) materialize() (*fst.Tree, error) {
	if d.tree != nil {
		return d.tree, nil
	}
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()
	if d.tree != nil {
		return d.tree, nil
	}
	part, err := d.partition()
	if err != nil {
		return nil, err
	}
	titleKey, err := part.TitleKey(d.fs.ctx.Keys)
	if err != nil {
		return nil, err
	}
	tree, err := part.FST(titleKey)
	if err != nil {
		return nil, err
	}
	d.tree = tree
	return tree, nil
}

func (d *partDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	tree, err := d.materialize()
	if err != nil {
		return nil, discErr(err)
	}
	root, err := tree.Lookup(".")
	if err != nil {
		return nil, discErr(err)
	}
	ents := []fuse.Dirent{{Name: "info.txt", Type: fuse.DT_File}}
	for _, c := range root.Children {
		t := fuse.DT_File
		if c.File.IsDir() {
			t = fuse.DT_Dir
		}
		ents = append(ents, fuse.Dirent{Name: c.File.Name(), Type: t})
	}
	return ents, nil
}

func (d *partDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	if name == "info.txt" {
		return &infoFile{partDir: d}, nil
	}
	tree, err := d.materialize()
	if err != nil {
		return nil, discErr(err)
	}
	node, err := tree.Lookup(name)
	if err != nil {
		return nil, syscall.ENOENT
	}
	if node.File.IsDir() {
		return &fstDir{tree: tree, path: name}, nil
	}
	return &fstFile{tree: tree, path: name}, nil
}

// fstDir projects one directory node of a materialised partition FST.
type fstDir struct {
	tree *fst.Tree
	path string
}

var (
	_ fs.Node               = (*fstDir)(nil)
	_ fs.NodeStringLookuper = (*fstDir)(nil)
	_ fs.HandleReadDirAller = (*fstDir)(nil)
)

func (d *fstDir) Attr(ctx context.Context, a *fuse.Attr) error {
	attrDir(a)
	return nil
}

func (d *fstDir) ReadDirAll(ctx context.Context) ([]fuse.Dirent, error) {
	node, err := d.tree.Lookup(d.path)
	if err != nil {
		return nil, syscall.ENOENT
	}
	ents := make([]fuse.Dirent, 0, len(node.Children))
	for _, c := range node.Children {
		t := fuse.DT_File
		if c.File.IsDir() {
			t = fuse.DT_Dir
		}
		ents = append(ents, fuse.Dirent{Name: c.File.Name(), Type: t})
	}
	return ents, nil
}

func (d *fstDir) Lookup(ctx context.Context, name string) (fs.Node, error) {
	child := d.path + "/" + name
	node, err := d.tree.Lookup(child)
	if err != nil {
		return nil, syscall.ENOENT
	}
	if node.File.IsDir() {
		return &fstDir{tree: d.tree, path: child}, nil
	}
	return &fstFile{tree: d.tree, path: child}, nil
}

// fstFile projects one regular file of a materialised partition FST,
// reading sequentially through fst.File (spec §4.9's "serve through
// the same lazily-opened fst.File a plain extract would use").
type fstFile struct {
	tree *fst.Tree
	path string
}

var (
	_ fs.Node         = (*fstFile)(nil)
	_ fs.HandleReader = (*fstFile)(nil)
)

func (f *fstFile) Attr(ctx context.Context, a *fuse.Attr) error {
	node, err := f.tree.Lookup(f.path)
	if err != nil {
		return syscall.ENOENT
	}
	attrFile(a, uint64(node.File.Size()))
	return nil
}

func (f *fstFile) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	node, err := f.tree.Lookup(f.path)
	if err != nil {
		return syscall.ENOENT
	}
	defer node.File.Close()

	buf := make([]byte, req.Offset+int64(req.Size))
	n, err := io.ReadFull(node.File, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return discErr(err)
	}
	if int64(n) <= req.Offset {
		resp.Data = nil
		return nil
	}
	resp.Data = buf[req.Offset:n]
	return nil
}

// infoFile is "part/<ptab>.<idx>/info.txt": a synthesised text blob
// summarising the partition's ticket/TMD, bounded to infoTxtMaxBytes
// (spec §4.9).
type infoFile struct {
	partDir *partDir
}

var (
	_ fs.Node         = (*infoFile)(nil)
	_ fs.HandleReader = (*infoFile)(nil)
)

func (f *infoFile) text() ([]byte, error) {
	part, err := f.partDir.partition()
	if err != nil {
		return nil, err
	}
	h, err := part.Header()
	if err != nil {
		return nil, err
	}
	tmd, err := part.TMD()
	if err != nil {
		return nil, err
	}
	ticket := h.Ticket()

	var sb strings.Builder
	fmt.Fprintf(&sb, "title id:   %x\n", ticket.TitleID())
	fmt.Fprintf(&sb, "common key: %d\n", ticket.CommonKeyIndex())
	fmt.Fprintf(&sb, "contents:   %d\n", tmd.NContent())
	fmt.Fprintf(&sb, "encrypted:  %v\n", !tmd.IsMarkedNotEncrypted())

	out := sb.String()
	if len(out) > infoTxtMaxBytes {
		out = out[:infoTxtMaxBytes]
	}
	return []byte(out), nil
}

func (f *infoFile) Attr(ctx context.Context, a *fuse.Attr) error {
	text, err := f.text()
	if err != nil {
		return discErr(err)
	}
	attrFile(a, uint64(len(text)))
	return nil
}

func (f *infoFile) Read(ctx context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	text, err := f.text()
	if err != nil {
		return discErr(err)
	}
	if req.Offset >= int64(len(text)) {
		resp.Data = nil
		return nil
	}
	end := req.Offset + int64(req.Size)
	if end > int64(len(text)) {
		end = int64(len(text))
	}
	resp.Data = text[req.Offset:end]
	return nil
}
