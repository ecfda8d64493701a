package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var settingsFactory = NewFactory()

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Read and write the dashboard settings document",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the persisted settings as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		app, err := settingsReadyApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		settings, err := app.Operations.LoadSettings(ctx)
		if err != nil {
			return logError(err, "", "loading settings")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one settings key and persist the document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		key, value := args[0], args[1]

		app, err := settingsReadyApp(cmd)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		settings, err := app.Operations.LoadSettings(ctx)
		if err != nil {
			return logError(err, "", "loading settings")
		}
		if settings == nil {
			settings = make(map[string]any)
		}

		// values that parse as JSON are stored typed, everything else as string
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err == nil {
			settings[key] = parsed
		} else {
			settings[key] = value
		}

		if err := app.Operations.SaveSettings(ctx, settings); err != nil {
			return logError(err, "", "saving settings")
		}
		logSuccess("saved %s", bold(key))
		return nil
	},
}

func settingsReadyApp(cmd *cobra.Command) (*App, error) {
	ctx := cmd.Context()

	app, err := settingsFactory.GetApp(ctx)
	if err != nil {
		return nil, err
	}

	if err := app.Coordinator.Init(ctx); err != nil {
		app.Close(ctx)
		return nil, logError(err, "", "initializing auth")
	}
	if !app.Coordinator.IsAuthenticated() {
		app.Close(ctx)
		return nil, logError(errors.New("not signed in"), "", "run 'dashie login' first")
	}
	if ready, err := app.Service.Initialize(ctx); !ready {
		app.Close(ctx)
		if err == nil {
			err = fmt.Errorf("service state: %s", app.Service.State())
		}
		return nil, logError(err, "", "credential service not ready")
	}
	return app, nil
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsFactory.bindConfigFlag(settingsCmd.PersistentFlags())
}
