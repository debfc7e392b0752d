// Package logging builds the service's structured logger, adapted from
// adred-codev-ws_poc/src/logger.go's NewLogger: same level/format switch
// and Console-vs-JSON writer choice, with the service tag generalized from
// "ws-server" to "todosync-server" and the panic-logging helper kept.
package logging

import (
	"io"
	"os"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level  string
	Pretty bool
}

// New builds a zerolog.Logger tagged with the service name, timestamp, and
// caller info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "todosync-server").
		Logger()
}

// Init installs the service logger as the zerolog global logger, for code
// paths that reach for the package-level log.Logger instead of a threaded
// instance.
func Init(cfg Config) zerolog.Logger {
	logger := New(cfg)
	log.Logger = logger
	return logger
}

// LogPanic logs a recovered panic with a full stack trace. The HTTP router
// recovers panics with chi's middleware.Recoverer, which does not call it.
func LogPanic(logger zerolog.Logger, panicValue interface{}, msg string, fields map[string]interface{}) {
	event := logger.Error().
		Interface("panic_value", panicValue).
		Str("stack_trace", string(debug.Stack()))
	for k, v := range fields {
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}
