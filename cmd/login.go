package cmd

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/auth"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

var (
	loginFactory  = NewFactory()
	loginProvider string
	loginTimeout  time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in with an auth provider",
	Long: `Runs the sign-in flow recommended for this host (web code flow,
device code flow or the native bridge) and initializes the backend
credential service once an identity is established.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
		defer cancel()

		app, err := loginFactory.GetApp(ctx)
		if err != nil {
			return err
		}
		defer app.Close(context.Background())

		app.Coordinator.Subscribe(func(ev auth.Event) {
			if ev.Type == auth.EventSignInPrompt {
				log.Warn().Msg("sign-in did not complete, please try again")
			}
		})

		if err := app.Coordinator.Init(ctx); err != nil {
			return logError(err, "", "initializing auth")
		}

		if !app.Coordinator.IsAuthenticated() {
			result, err := app.Coordinator.SignIn(ctx, loginProvider)
			if err != nil {
				return logError(err, "", "sign-in failed")
			}
			switch result.Status {
			case core.AuthCancelled:
				log.Warn().Msg("sign-in cancelled")
				return nil
			case core.AuthPending:
				// web code flow: the browser is open, wait for the redirect
				// to land on the loopback server and resume
				if app.Callback == nil {
					return logError(errors.New("no callback listener"), "", "cannot complete pending sign-in")
				}
				log.Info().Msg("waiting for the browser redirect...")
				if err := app.Callback.Wait(ctx); err != nil {
					return logError(err, "", "no redirect received")
				}
				if err := app.Coordinator.Init(ctx); err != nil {
					return logError(err, "", "completing sign-in")
				}
			}
		}

		if !app.Coordinator.IsAuthenticated() {
			return logError(errors.New("no identity established"), "", "sign-in failed")
		}
		user := app.Coordinator.User()
		logSuccess("signed in as %s via %s", bold(user.Email), app.Coordinator.CurrentProvider())

		ready, err := app.Service.Initialize(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("credential service unavailable, continuing degraded")
			return nil
		}
		if ready {
			if flushed, err := app.Operations.DrainDeferred(ctx, app.Deferred); err != nil {
				log.Warn().Err(err).Int("flushed", flushed).Msg("deferred tokens not fully stored")
			}
			logSuccess("credential service ready")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginFactory.bindConfigFlag(loginCmd.Flags())
	loginCmd.Flags().StringVar(&loginProvider, "provider", "", "Provider name (defaults to the recommended one)")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "Overall sign-in deadline")
}
