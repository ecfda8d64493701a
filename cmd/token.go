package cmd

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/audit"
)

var (
	tokenFactory = NewFactory()
	tokenShow    bool
)

var tokenCmd = &cobra.Command{
	Use:   "token <provider> <account-type>",
	Short: "Fetch a valid provider access token for an account",
	Long: `Returns a valid access token for the given provider account,
serving from the local cache when possible and refreshing through the
backend otherwise. By default only the token fingerprint is printed.`,
	Example: `  dashie token google personal
  dashie token google work --show`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		provider, accountType := args[0], args[1]

		app, err := tokenFactory.GetApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(ctx)

		if err := app.Coordinator.Init(ctx); err != nil {
			return logError(err, "", "initializing auth")
		}
		if !app.Coordinator.IsAuthenticated() {
			return logError(errors.New("not signed in"), "", "run 'dashie login' first")
		}

		if ready, err := app.Service.Initialize(ctx); !ready {
			return logError(err, "", "credential service not ready")
		}

		token, err := app.Operations.GetValidToken(ctx, provider, accountType)
		if err != nil {
			return logError(err, "", "fetching token for %s/%s", provider, accountType)
		}

		if tokenShow {
			fmt.Println(token)
			return nil
		}
		log.Info().Msgf("token for %s/%s: %s (use --show to print it)",
			provider, accountType, audit.Fingerprint(token))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenFactory.bindConfigFlag(tokenCmd.Flags())
	tokenCmd.Flags().BoolVar(&tokenShow, "show", false, "Print the raw token instead of its fingerprint")
}
