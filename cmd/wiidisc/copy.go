package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wiidisc/wiidisc/pkg/compose"
	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/wbfs"
)

func newCopyCmd() *cobra.Command {
	var id6, title string
	var align32K bool

	cmd := &cobra.Command{
		Use:   "copy <src> <dst>",
		Short: "copy a directory or an existing disc into an image file or a WBFS slot (spec §4.6/§4.7)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}

			var img []byte
			if fi, statErr := os.Stat(args[0]); statErr == nil && fi.IsDir() {
				l, err := compose.BuildFromDirectory(args[0], align32K)
				if err != nil {
					return err
				}
				if id6 == "" {
					return fmt.Errorf("--id6 is required when packing a directory")
				}
				var titleKey, commonKey [16]byte
				if len(ctx.Keys) > 0 {
					commonKey = ctx.Keys[0]
				}
				ctx.Log.Infof("packing %s as %s (%q)", args[0], id6, title)
				img, err = packDisc(ctx, l, id6, title, titleKey, commonKey)
				if err != nil {
					return err
				}
			} else {
				_, src, err := openDisc(args[0])
				if err != nil {
					return err
				}
				defer src.Close()
				ctx.Log.Infof("copying %s (%d bytes)", args[0], src.Size())
				progress := ctx.Log.NewProgress(args[0], "KiB", src.Size())
				r := progress.ProxyReader(io.NewSectionReader(src, 0, src.Size()))
				img = make([]byte, src.Size())
				_, err = io.ReadFull(r, img)
				r.Close()
				progress.Finish(err == nil)
				if err != nil && err != io.EOF {
					return err
				}
			}

			ctx.Log.Infof("writing %d bytes to %s", len(img), args[1])
			return writeOut(args[1], img, ctx.Keys)
		},
	}
	cmd.Flags().StringVar(&id6, "id6", "", "6-character disc id (required when packing a directory)")
	cmd.Flags().StringVar(&title, "title", "", "disc title")
	cmd.Flags().BoolVar(&align32K, "align-32k", false, "align partition files on 32 KiB boundaries")
	return cmd
}

// writeOut writes img either into a plain file, or into a fresh slot of
// a WBFS container named as "container.wbfs#ID6".
func writeOut(dst string, img []byte, keys disc.CommonKeys) error {
	path, id6, isWBFS := strings.Cut(dst, "#")
	if !isWBFS {
		tmp := dst + ".tmp-" + strings.ReplaceAll(uuid.New().String(), "-", "")
		if err := os.WriteFile(tmp, img, 0o644); err != nil {
			os.Remove(tmp)
			return err
		}
		return os.Rename(tmp, dst)
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	c, err := wbfs.Open(f)
	if err != nil {
		return err
	}
	return c.AddDisc(id6, id6, bytes.NewReader(img), int64(len(img)), imageUsedSectorBitmap(img, keys))
}

// imageUsedSectorBitmap best-effort parses an in-memory disc image to
// derive its used-sector bitmap (spec §4.5). Returns nil when img isn't
// a parseable Wii disc (e.g. a freshly packed GameCube-style image),
// which AddDisc treats as "every sector used".
func imageUsedSectorBitmap(img []byte, keys disc.CommonKeys) []bool {
	d, err := disc.Open(bytes.NewReader(img))
	if err != nil || !d.Header().IsWii() {
		return nil
	}
	parts, err := d.Partitions()
	if err != nil {
		return nil
	}
	return d.UsedSectorBitmap(parts, keys, int64(len(img)))
}
