package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentmesh/agentgate/pkg/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version information",
	Run: func(cmd *cobra.Command, _ []string) {
		info := version.Get()

		format, _ := cmd.Flags().GetString("format")
		switch format {
		case "json":
			out, err := info.JSON()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error formatting version info: %s\n", err)
				os.Exit(1)
			}
			fmt.Println(out)
		default:
			fmt.Println(info.String())
		}
	},
}

func init() {
	versionCmd.Flags().String("format", "text", "Output format (text, json)")
}
