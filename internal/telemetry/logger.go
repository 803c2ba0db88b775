package telemetry

import (
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the process-wide zerolog logger. pretty selects the
// human-readable console writer (for local/headless runs); otherwise
// logs are newline-delimited JSON suitable for log aggregation.
func NewLogger(pretty bool, level zerolog.Level) zerolog.Logger {
	zerolog.SetGlobalLevel(level)
	if pretty {
		writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		return zerolog.New(writer).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
