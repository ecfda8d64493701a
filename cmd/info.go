package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/buildinfo"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show information about the Dashie installation",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := buildinfo.GetBuildInfo()
		printInfo(&info)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func printInfo(info *buildinfo.Info) {
	fmt.Println(bold("\n── Dashie Build Information ──"))
	fmt.Printf("  %s:    %s\n", faint("Version"), info.Version)
	fmt.Printf("  %s:     %s\n", faint("Commit"), info.CommitHash)
}
