package cmd

import (
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
)

var (
	greenCheck = color.New(color.FgGreen).Sprint("✓")
	redCross   = color.New(color.FgRed).Sprint("✗")
	bold       = color.New(color.Bold).Sprint
	faint      = color.New(color.Faint).Sprint
)

// BeQuietError signals a failure that was already reported to the user.
type BeQuietError struct{}

func (BeQuietError) Error() string {
	return "(silent failure)"
}

func logSuccess(format string, args ...any) {
	log.Info().Msgf(greenCheck+" "+format, args...)
}

func logError(err error, correlationID, format string, args ...any) error {
	ev := log.Error().Err(err)
	if correlationID != "" {
		ev = ev.Str("correlation_id", correlationID)
	}
	ev.Msgf(redCross+" "+format, args...)
	return BeQuietError{}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
