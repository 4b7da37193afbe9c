package logging

import (
	"context"
	"os"

	"github.com/rs/zerolog"

	"github.com/hackgods/hospital-scheduling/internal/reqctx"
)

// New builds the process logger. Development gets the console writer, every
// other env gets JSON lines on stdout.
func New(env, level, service string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if env == "dev" || env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout})
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(lvl).With().Timestamp().Str("service", service).Logger()
}

// WithRequest decorates logger with the actor and trace id found in ctx.
func WithRequest(ctx context.Context, logger zerolog.Logger) *zerolog.Logger {
	l := logger.With().Str("actor", reqctx.Actor(ctx))
	if trace := reqctx.TraceID(ctx); trace != "" {
		l = l.Str("trace_id", trace)
	}
	out := l.Logger()
	return &out
}
