package config

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global zerolog logger. Format "console" writes
// human-readable output for local development; anything else emits JSON.
func InitLogger(level, format string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var output = os.Stderr
	if format == "console" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).
			With().Timestamp().Caller().Logger()
		return nil
	}

	log.Logger = zerolog.New(output).With().Timestamp().Caller().Logger()
	return nil
}

// NewLogger returns a child logger tagged with a component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// NewAgentLogger returns a child logger tagged with an agent identity.
func NewAgentLogger(name, kind string) zerolog.Logger {
	return log.With().
		Str("agent", name).
		Str("agent_kind", kind).
		Logger()
}
