// Command wiidisc inspects, extracts, repackages, and serves Wii and
// GameCube optical-disc images and WBFS multi-disc stores (spec §1).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wiidisc/wiidisc/pkg/disc"
	"github.com/wiidisc/wiidisc/pkg/wconfig"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var commonKeyHex string

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wiidisc",
		Short:         "inspect, extract, and repackage Wii/GameCube disc images",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&commonKeyHex, "common-key", "", "hex-encoded common key for index 0 (overrides ~/.wiidisc.yaml)")

	root.AddCommand(
		newDumpCmd(),
		newExtractCmd(),
		newCopyCmd(),
		newVerifyCmd(),
		newWbfsCmd(),
	)
	addMountCmd(root)
	return root
}

// loadContext builds the ambient wconfig.Context for a single command
// invocation, layering --common-key over whatever New already read
// from the environment and config file (spec §9 ambient Context).
func loadContext() (*wconfig.Context, error) {
	var opts []wconfig.Option
	if commonKeyHex != "" {
		key, err := parseHexKey(commonKeyHex)
		if err != nil {
			return nil, fmt.Errorf("--common-key: %w", err)
		}
		opts = append(opts, wconfig.WithKeys(disc.CommonKeys{0: key}))
	}
	return wconfig.New(opts...)
}
