package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the COMPASS version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("compass %s\n", Version)
	},
}
