//go:build linux || darwin

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/discfmt"
	"github.com/wiidisc/wiidisc/pkg/facade"
	"github.com/wiidisc/wiidisc/pkg/fuseview"
)

func addMountCmd(root *cobra.Command) {
	root.AddCommand(newMountCmd())
}

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount <disc> <mountpoint>",
		Short: "serve a read-only FUSE projection of a disc (spec §4.9)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := loadContext()
			if err != nil {
				return err
			}

			discPath := args[0]
			hdr, err := peekHeader(discPath)
			if err != nil {
				return err
			}

			slot := fuseview.Slot{
				Index: 0,
				ID6:   hdr.ID6(),
				Title: hdr.Title(),
				Open: func() (facade.Source, error) {
					return openSource(discPath)
				},
			}
			fs := fuseview.New(ctx, []fuseview.Slot{slot})
			fmt.Printf("serving %s at %s\n", discPath, args[1])
			return fs.Mount(args[1])
		},
	}
	return cmd
}

func peekHeader(path string) (*discfmt.Header, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	d, err := disc.Open(&asReadSeeker{src: src})
	if err != nil {
		return nil, err
	}
	return d.Header(), nil
}
