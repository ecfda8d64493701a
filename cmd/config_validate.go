package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// configValidateCmd represents the config validate command
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the auth configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := configFactory.LoadAuthConfig()
		if err != nil {
			log.Error().Err(err).Msg("Configuration is invalid.")
			return BeQuietError{}
		}
		log.Info().Msg("Configuration is valid.")
		return nil
	},
}

func init() {
	configCmd.AddCommand(configValidateCmd)
}
