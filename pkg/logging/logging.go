// chatguard/pkg/logging/logging.go

package logging

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
)

// LogFile is where the "file" output writes.
const LogFile = "chatguard.log"

var Logger zerolog.Logger

func init() {
	logLevel := zerolog.InfoLevel
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if envLevel := os.Getenv("LOG_LEVEL"); envLevel != "" {
		if level, err := zerolog.ParseLevel(envLevel); err == nil {
			logLevel = level
		}
	}

	zerolog.SetGlobalLevel(logLevel)
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// ConfigureLogger sets the global level and points both the package Logger
// and zerolog's global logger at the requested output.
func ConfigureLogger(logLevel, logOutput string) error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil || logLevel == "" {
		return fmt.Errorf("Invalid log level: %q", logLevel)
	}

	var out zerolog.Logger
	switch logOutput {
	case "console":
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "3:04PM"})
	case "json":
		out = zerolog.New(os.Stderr)
	case "file":
		file, err := os.OpenFile(LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		out = zerolog.New(file)
	default:
		return fmt.Errorf("Invalid log output option: %q", logOutput)
	}

	zerolog.SetGlobalLevel(level)
	Logger = out.With().Timestamp().Logger()
	log.Logger = Logger
	return nil
}
