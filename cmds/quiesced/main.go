package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/safing/quiesce/base/info"
)

var rootCmd = &cobra.Command{
	Use:          "quiesced",
	Short:        "Quiesce units and stop them once all participants released them",
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	info.Set("quiesced", Version)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
