package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentrytap/sentrytap/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s", version.Version())
	},
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
