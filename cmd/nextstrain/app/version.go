package app

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextstrain/cli/pkg/logger"
	"github.com/nextstrain/cli/pkg/versions"
)

// newVersionCmd creates a new version command
func newVersionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the version of the Nextstrain CLI",
		Run: func(_ *cobra.Command, _ []string) {
			info := versions.GetVersionInfo()

			if jsonOutput {
				out, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					logger.Errorf("Error formatting version information: %v", err)
					return
				}
				fmt.Println(string(out))
				return
			}

			fmt.Printf("Nextstrain CLI %s\n", info.Version)
			fmt.Printf("Commit: %s\n", info.Commit)
			fmt.Printf("Built: %s\n", info.BuildDate)
			fmt.Printf("Go version: %s\n", info.GoVersion)
			fmt.Printf("Platform: %s\n", info.Platform)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version information as JSON")

	return cmd
}
