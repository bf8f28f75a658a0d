// Package ctxlog passes a slog.Logger through context.Context and builds the
// CLI's logger from its global flags.
package ctxlog

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

type key struct{}

var loggerKey = key{}

// WithLogger returns a new context with the provided logger embedded.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext extracts the slog.Logger from a context. A context without one
// gets a logger that discards everything.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return discard
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// Options mirror the global --verbose, --debug and --log flags.
type Options struct {
	Verbose bool
	Debug   bool
	File    string
}

// Level returns the slog level selected by the options.
func (o Options) Level() slog.Level {
	switch {
	case o.Debug:
		return slog.LevelDebug
	case o.Verbose:
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

// New builds a text logger writing to stderr, or to File when set. The
// returned closer releases the log file.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file %s: %w", opts.File, err)
		}
		w, closer = f, f
	}
	h := slog.NewTextHandler(w, &slog.HandlerOptions{Level: opts.Level()})
	return slog.New(h), closer, nil
}
