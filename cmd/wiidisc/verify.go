package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wiidisc/wiidisc/pkg/integrity"
)

func newVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <disc>",
		Short: "re-derive every partition's hash tree and compare it against the stored hashes (spec §4.10)",
		Args:  cobra.ExactArgs(1),
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

			report, err := integrity.VerifyDisc(ctx, d)
			if err != nil {
				return err
			}
			fmt.Print(report.String())
			if !report.OK() {
				return fmt.Errorf("%d integrity mismatch(es) found", len(report.Findings))
			}
			fmt.Println("ok")
			return nil
		},
	}
	return cmd
}
