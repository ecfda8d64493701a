package cmd

import (
	"github.com/spf13/cobra"
)

var configFactory = NewFactory()

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Interact with the configuration",
	Long:  `Utilities for validating and viewing the Dashie auth configuration`,
}

func init() {
	rootCmd.AddCommand(configCmd)

	configFactory.bindConfigFlag(configCmd.PersistentFlags())
}
