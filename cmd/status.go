package cmd

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/platform"
)

var statusFactory = NewFactory()

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show auth state, providers and the recommended strategy",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := statusFactory.GetApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		if err := app.Coordinator.Init(ctx); err != nil {
			return logError(err, "", "initializing auth")
		}

		cls := platform.Classify(app.Signals)
		log.Info().Msgf("platform: %s (device: %s), recommended strategy: %s",
			cls.Platform, cls.Device, platform.RecommendStrategy(app.Signals))

		if user := app.Coordinator.User(); user != nil {
			logSuccess("signed in as %s via %s", bold(user.Email), app.Coordinator.CurrentProvider())
		} else {
			log.Info().Msg("not signed in")
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Provider", "Type", "Refresh Tokens", "Available",
		})
		for _, p := range app.Coordinator.Providers() {
			available := greenCheck
			if !p.Available {
				available = redCross
			}
			refresh := "no"
			if p.SupportsRefreshTokens {
				refresh = "yes"
			}
			t.AppendRow(table.Row{p.Name, p.Type, refresh, available})
		}
		t.Render()

		if app.Config.Backend.Endpoint == "" {
			log.Info().Msg("credential service: not configured")
		} else {
			log.Info().Msgf("credential service: %s", app.Service.State())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusFactory.bindConfigFlag(statusCmd.Flags())
}
