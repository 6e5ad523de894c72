package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Console output unless json is set.
func Init(verbose, json bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	if json {
		out = os.Stderr
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// New returns a logger writing to w, or the global logger when w is nil.
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		return log.Logger
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func WithComponent(component string) zerolog.Logger {
	return log.Logger.With().Str("component", component).Logger()
}
