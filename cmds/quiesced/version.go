package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/safing/quiesce/base/info"
)

// Version is set at build time.
var Version = "dev build"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and related metadata.",
	RunE:  cmdVersion,
}

func cmdVersion(cmd *cobra.Command, _ []string) error {
	_, err := fmt.Fprintln(cmd.OutOrStdout(), info.FullVersion())
	return err
}
