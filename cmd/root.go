package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/buildinfo"
	"github.com/jwlerch78/dashieapp-staging-sub003/internal/logging"
)

// global flags
var (
	configPath string
)

const (
	PlatformKey     = "platform.name"
	DeviceKey       = "platform.device"
	WebViewKey      = "platform.webview"
	NativeBridgeKey = "platform.native_bridge"
)

var rootCmd = &cobra.Command{
	Use:   "dashie",
	Short: fmt.Sprintf("Dashie auth manager (version: %s, commit: %s)", buildinfo.Version, buildinfo.CommitHash),
	Long: `Dashie coordinates sign-in across OAuth providers (web code flow,
	device code flow, native host bridges) and maintains the backend service
	credential used for calendar and photo access.`,
	Version: buildinfo.Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		configFile, configErr := initConfig()
		logging.Init(nil)
		if configErr != nil { // handle error after logging is initialized
			return configErr
		}
		if configFile != "" {
			log.Debug().Msgf("using config file: %s", configFile)
		}
		return nil
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		if errors.As(err, &BeQuietError{}) {
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("execution failed")
		os.Exit(1)
	}
}

func init() {
	// setup pre-flag logger
	logging.InitDefault()

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Dashie configuration file (default is $HOME/.dashie.yaml)")

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	_ = viper.BindPFlag(logging.LevelKey, rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.PersistentFlags().String("log-format", "console", "Log format (console, json)")
	_ = viper.BindPFlag(logging.FormatKey, rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.PersistentFlags().Bool("no-color", false, "Disable color output")
	_ = viper.BindPFlag(logging.NoColorKey, rootCmd.PersistentFlags().Lookup("no-color"))

	rootCmd.PersistentFlags().String("platform", "", "Override the detected platform (web, desktop, webview, fire_tv, android_tv)")
	_ = viper.BindPFlag(PlatformKey, rootCmd.PersistentFlags().Lookup("platform"))

	rootCmd.PersistentFlags().String("device", "", "Override the detected device class (desktop, tv)")
	_ = viper.BindPFlag(DeviceKey, rootCmd.PersistentFlags().Lookup("device"))

	viper.SetEnvPrefix("DASHIE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(
		".", "_",
		"-", "_",
	))

	viper.AutomaticEnv()

	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

func initConfig() (string, error) {
	// reads in config file and ENV variables if set.
	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// search order: current dir, $HOME, XDG config
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}

		config, err := os.UserConfigDir()
		if err == nil {
			viper.AddConfigPath(config + "/dashie")
		}

		viper.SetConfigType("yaml")
		viper.SetConfigName(".dashie")
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err != nil {
		var notFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &notFoundError) {
			return "", err
		}
	} else {
		return viper.ConfigFileUsed(), nil
	}

	return "", nil
}
