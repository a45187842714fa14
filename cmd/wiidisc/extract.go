package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/kennygrant/sanitize"
	"github.com/spf13/cobra"

	"github.com/wiidisc/wiidisc/pkg/fst"
	"github.com/wiidisc/wiidisc/pkg/wconfig"
)

func newExtractCmd() *cobra.Command {
	var partIdx int
	var pattern string

	cmd := &cobra.Command{
		Use:   "extract <disc> <dir>",
		Short: "decrypt one partition's file tree into a local directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}

			d, src, err := openDisc(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			parts, err := d.Partitions()
			if err != nil {
				return err
			}
			if partIdx < 0 || partIdx >= len(parts) {
				return fmt.Errorf("partition %d out of range (disc has %d)", partIdx, len(parts))
			}
			part := parts[partIdx]

			titleKey, err := part.TitleKey(ctx.Keys)
			if err != nil {
				return err
			}
			tree, err := part.FST(titleKey)
			if err != nil {
				return err
			}

			var g glob.Glob
			if pattern != "" {
				g = glob.MustCompile(pattern)
			}

			return tree.Walk(func(path string, f fst.File) error {
				if path == "." {
					return nil
				}
				if g != nil && !g.Match(path) {
					return nil
				}
				// sanitize.Path strips ".." traversal before it ever reaches
				// filepath.Join, since the FST comes from the disc itself.
				dst := filepath.Join(args[1], filepath.FromSlash(sanitize.Path(path)))
				if f.IsDir() {
					ctx.Log.Debugf("mkdir %s", dst)
					return os.MkdirAll(dst, 0o755)
				}
				ctx.Log.Infof("extracting %s (%d bytes)", path, f.Size())
				return extractFile(ctx, dst, f)
			})
		},
	}
	cmd.Flags().IntVar(&partIdx, "partition", 0, "partition index to extract (spec §4.5)")
	cmd.Flags().StringVar(&pattern, "glob", "", "only extract paths matching this glob")
	return cmd
}

func extractFile(ctx *wconfig.Context, dst string, f fst.File) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	progress := ctx.Log.NewProgress(filepath.Base(dst), "KiB", f.Size())
	src := progress.ProxyReader(f)
	defer src.Close()

	buf := make([]byte, 1<<20)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				progress.Finish(false)
				return werr
			}
		}
		if err != nil {
			if err == io.EOF {
				progress.Finish(true)
				return nil
			}
			progress.Finish(false)
			return err
		}
	}
}
