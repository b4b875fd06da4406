// Package logger configures zerolog for the trading daemon. Production
// runs emit JSON to stdout; dev mode swaps in the console writer.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger settings.
type Config struct {
	Level  string // zerolog level name: debug, info, warn, error, ...
	Pretty bool
}

// New builds the root logger. Unknown level names fall back to info
// rather than failing startup.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger replaces zerolog's package-level logger, so stray
// log.Info() calls share the configured output.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
