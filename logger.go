package optgo

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/optgo/key"
	"github.com/hupe1980/optgo/solver"
)

// Logger wraps slog.Logger with optgo-specific context. This provides
// structured logging with consistent field names across solves.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithOptimizer adds an optimizer name field to the logger.
func (l *Logger) WithOptimizer(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("optimizer", name),
	}
}

// WithIteration adds an iteration field to the logger.
func (l *Logger) WithIteration(iteration int) *Logger {
	return &Logger{
		Logger: l.Logger.With("iteration", iteration),
	}
}

// WithKey adds a variable key field to the logger.
func (l *Logger) WithKey(k key.Key) *Logger {
	return &Logger{
		Logger: l.Logger.With("key", k.String()),
	}
}

// LogSolve logs the outcome of an Optimize call: debug on convergence, warn
// on budget exhaustion or failure.
func (l *Logger) LogSolve(ctx context.Context, name string, stats *solver.Stats) {
	attrs := []any{
		"optimizer", name,
		"status", stats.Status.String(),
		"reason", stats.Reason.String(),
		"best_error", stats.BestError,
		"iterations", stats.TotalIterations(),
	}
	if stats.Converged() {
		l.DebugContext(ctx, "solve converged", attrs...)
	} else {
		l.WarnContext(ctx, "solve did not converge", attrs...)
	}
}
