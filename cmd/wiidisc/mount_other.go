//go:build !linux && !darwin

package main

import "github.com/spf13/cobra"

func addMountCmd(root *cobra.Command) {
	// bazil.org/fuse only supports Linux and macOS; nothing to add.
}
