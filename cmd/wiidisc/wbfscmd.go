package main

import (
	"fmt"
	"io"
	"os"

	"github.com/djherbis/buffer"
	"github.com/djherbis/nio"
	"github.com/spf13/cobra"
	"github.com/thanhpk/randstr"

	"github.com/wiidisc/wiidisc/pkg/facade"
	"github.com/wiidisc/wiidisc/pkg/integrity"
	"github.com/wiidisc/wiidisc/pkg/wbfs"
)

func newWbfsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wbfs",
		Short: "manage a WBFS multi-disc container (spec §4.7)",
	}
	cmd.AddCommand(
		newWbfsAddCmd(),
		newWbfsRmCmd(),
		newWbfsRenameCmd(),
		newWbfsLsCmd(),
		newWbfsCheckCmd(),
		newWbfsRepairCmd(),
	)
	return cmd
}

func openContainer(path string, writable bool) (*wbfs.Container, *os.File, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, nil, err
	}
	c, err := wbfs.Open(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return c, f, nil
}

func newWbfsAddCmd() *cobra.Command {
	var id6, title string
	cmd := &cobra.Command{
		Use:   "add <container.wbfs> <disc>",
		Short: "add a disc image into a free WBFS slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if id6 == "" {
				return fmt.Errorf("--id6 is required")
			}
			c, f, err := openContainer(args[0], true)
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, err := loadContext()
			if err != nil {
				return err
			}

			used := sourceUsedSectorBitmap(args[1], ctx.Keys)

			src, err := openSource(args[1])
			if err != nil {
				return err
			}
			defer src.Close()

			if title == "" {
				title = id6
			}
			ctx.Log.Infof("adding %s (%q) from %s", id6, title, args[1])
			stream := streamSource(src)
			defer stream.Close()
			progress := ctx.Log.NewProgress(id6, "KiB", src.Size())
			proxied := progress.ProxyReader(stream)
			defer proxied.Close()
			err = c.AddDisc(id6, title, proxied, src.Size(), used)
			progress.Finish(err == nil)
			return err
		},
	}
	cmd.Flags().StringVar(&id6, "id6", "", "disc id to store the image under")
	cmd.Flags().StringVar(&title, "title", "", "disc title (defaults to id6)")
	return cmd
}

func newWbfsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <container.wbfs> <id6>",
		Short: "free a disc's blocks and clear its slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, f, err := openContainer(args[0], true)
			if err != nil {
				return err
			}
			defer f.Close()
			return c.RemoveDisc(args[1])
		},
	}
}

func newWbfsRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <container.wbfs> <id6> <title>",
		Short: "update a disc's stored title",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, f, err := openContainer(args[0], true)
			if err != nil {
				return err
			}
			defer f.Close()
			return c.RenameDisc(args[1], args[2])
		},
	}
}

func newWbfsLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <container.wbfs>",
		Short: "list occupied slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, f, err := openContainer(args[0], false)
			if err != nil {
				return err
			}
			defer f.Close()

			slots, err := c.List()
			if err != nil {
				return err
			}
			for _, s := range slots {
				fmt.Printf("%3d  %s  %s\n", s.Index, s.ID6, s.Title)
			}
			fmt.Printf("free blocks: %d\n", c.FreeBlocks())
			return nil
		},
	}
}

func newWbfsCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <container.wbfs>",
		Short: "reconstruct and compare the free-block bitmap (spec §4.7 consistency check)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, f, err := openContainer(args[0], false)
			if err != nil {
				return err
			}
			defer f.Close()

			report, _, err := integrity.CheckWBFS(c)
			if err != nil {
				return err
			}
			fmt.Print(report.String())
			if !report.OK() {
				return fmt.Errorf("%d problem(s) found", len(report.Findings))
			}
			fmt.Println("ok")
			return nil
		},
	}
}

func newWbfsRepairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair <container.wbfs>",
		Short: "reclaim leaked blocks and rewrite the free-block table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, f, err := openContainer(args[0], true)
			if err != nil {
				return err
			}
			defer f.Close()

			backup := args[0] + ".bak-" + randstr.Hex(5)
			if err := copyFile(args[0], backup); err != nil {
				return fmt.Errorf("backing up before repair: %w", err)
			}

			report, err := c.Repair()
			if err != nil {
				return err
			}
			fmt.Printf("reclaimed %d leaked block(s) (backup at %s)\n", len(report.LeakedBlocks), backup)
			return nil
		},
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

// streamSource adapts a facade.Source (ReaderAt) into the sequential
// io.ReadCloser that Container.AddDisc streams from, decoupling the
// producer from AddDisc's block-sized writes the way
// pkg/vpkg used nio.Pipe to decouple a packer from its consumer.
func streamSource(src facade.Source) io.ReadCloser {
	r, w := nio.Pipe(buffer.New(1 << 20))
	go func() {
		_, err := io.Copy(w, io.NewSectionReader(src, 0, src.Size()))
		w.CloseWithError(err)
	}()
	return r
}
