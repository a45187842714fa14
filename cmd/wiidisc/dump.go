package main

import (
	"fmt"

	"code.cloudfoundry.org/bytefmt"
	"github.com/spf13/cobra"
)

func newDumpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <disc>",
		Short: "print a disc's header, partition table, and per-partition layout",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, src, err := openDisc(args[0])
			if err != nil {
				return err
			}
			defer src.Close()

			hdr := d.Header()
			fmt.Printf("game id:   %s\n", hdr.ID6())
			fmt.Printf("title:     %s\n", hdr.Title())
			fmt.Printf("size:      %s\n", bytefmt.ByteSize(uint64(src.Size())))

			parts, err := d.Partitions()
			if err != nil {
				return err
			}
			for i, p := range parts {
				h, err := p.Header()
				if err != nil {
					fmt.Printf("partition %d: %v\n", i, err)
					continue
				}
				fmt.Printf("partition %d: type=%d offset=%#x data=%s\n",
					i, p.Type, p.Offset, bytefmt.ByteSize(uint64(h.DataSize())))
			}
			return nil
		},
	}
	return cmd
}
