package main

import (
	"fmt"

	"github.com/mikey/phish-gateway/internal/di"
	"github.com/spf13/cobra"
)

var flags = &di.CLIFlags{}

var rootCmd = &cobra.Command{
	Use:   "phishctl",
	Short: "Operate the phish-gateway pipeline from the command line",
	Long: `phishctl scans messages through the same pipeline the gateway runs,
releases quarantined messages after review and manages allow/block lists.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flags.ConfigFile, "config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&flags.JSONLog, "json-log", false, "Output logs in JSON format")

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(policyCmd)
}

// invoke builds the CLI container and runs fn with its dependencies
func invoke(fn interface{}) error {
	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		return fmt.Errorf("failed to build dependency container: %w", err)
	}
	return container.Invoke(fn)
}
