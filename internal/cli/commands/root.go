package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "stackwizard",
	Short: "stackwizard - guided Terraform deployments",
	Long: `stackwizard walks you through deploying cloud infrastructure from a
template catalog and safely tearing it down again.

Core Flow:
  Template → Variables → Init → Plan → Review → Apply → (Rollback)`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(templatesCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(statusCmd)
}
