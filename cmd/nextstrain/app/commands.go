// Package app provides the entry point for the nextstrain command-line
// application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nextstrain/cli/pkg/logger"
	"github.com/nextstrain/cli/pkg/origin"
)

var rootCmd = &cobra.Command{
	Use:               "nextstrain",
	DisableAutoGenTag: true,
	Short:             "Nextstrain command-line interface",
	Long: `The Nextstrain CLI provides access to Nextstrain components and
nextstrain.org (or compatible groups servers) from the command line.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the Nextstrain CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		// Re-read the level now that --debug has been parsed.
		logger.Initialize()
	}

	rootCmd.AddCommand(newLoginCmd())
	rootCmd.AddCommand(newLogoutCmd())
	rootCmd.AddCommand(newWhoamiCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

// originFromArgs resolves the optional positional remote argument,
// defaulting to nextstrain.org.
func originFromArgs(args []string) (origin.Origin, error) {
	if len(args) == 0 {
		return origin.Legacy, nil
	}
	return origin.Parse(args[0])
}
