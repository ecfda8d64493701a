// Package logging configures the global zerolog logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

const (
	LevelKey   = "log.level"
	FormatKey  = "log.format"
	NoColorKey = "log.no_color"
)

// InitDefault sets up a console logger before flags and config are parsed,
// so early failures are still readable.
func InitDefault() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// Init configures the global logger from viper. A nil writer means stderr.
func Init(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	level, err := zerolog.ParseLevel(strings.ToLower(viper.GetString(LevelKey)))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	switch viper.GetString(FormatKey) {
	case "json":
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	default:
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:     w,
			NoColor: viper.GetBool(NoColorKey),
		}).With().Timestamp().Logger()
	}
}
