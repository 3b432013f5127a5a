package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

const version = "1.0.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("sessiond version %s\n", version)
		fmt.Println("A crash-safe automated trading session runtime")
		fmt.Println("https://github.com/rustyeddy/sessiond")
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
