package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jkaninda/timebox/internal/sandbox"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered works",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		for _, name := range sandbox.Works() {
			fmt.Fprintln(cmd.OutOrStdout(), name)
		}
	},
}
