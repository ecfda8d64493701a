package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var logoutFactory = NewFactory()

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and clear the stored session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := logoutFactory.GetApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		if err := app.Coordinator.Init(ctx); err != nil {
			return logError(err, "", "initializing auth")
		}
		if !app.Coordinator.IsAuthenticated() {
			log.Info().Msg("not signed in")
			return nil
		}

		user := app.Coordinator.User()
		if err := app.Coordinator.SignOut(ctx); err != nil {
			// local state is cleared regardless
			log.Warn().Err(err).Msg("provider sign-out reported an error")
		}
		logSuccess("signed out %s", bold(user.Email))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)

	logoutFactory.bindConfigFlag(logoutCmd.Flags())
}
