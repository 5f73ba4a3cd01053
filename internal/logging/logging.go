// Package logging carries request-scoped slog loggers through contexts so
// that services log with the request ID and caller attached by the transport.
package logging

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// OrDefault returns logger, or slog.Default when it is nil.
func OrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}

// Attach stores logger on ctx. A nil logger leaves ctx unchanged.
func Attach(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Attached reports the logger stored on ctx, if any.
func Attached(ctx context.Context) (*slog.Logger, bool) {
	if ctx == nil {
		return nil, false
	}
	logger, ok := ctx.Value(loggerKey{}).(*slog.Logger)
	return logger, ok && logger != nil
}

// From returns the logger stored on ctx, falling back to fallback and then
// to slog.Default.
func From(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := Attached(ctx); ok {
		return logger
	}
	return OrDefault(fallback)
}

// With adds attrs to the logger already stored on ctx. Contexts without a
// logger are returned as is.
func With(ctx context.Context, attrs ...any) context.Context {
	logger, ok := Attached(ctx)
	if !ok || len(attrs) == 0 {
		return ctx
	}
	return Attach(ctx, logger.With(attrs...))
}

// Scope names the component handling the current call, e.g.
// Scope(ctx, base, "service", "ReminderService", "Sweep").
func Scope(ctx context.Context, fallback *slog.Logger, kind, name, operation string, attrs ...any) *slog.Logger {
	pairs := make([]any, 0, 4+len(attrs))
	pairs = append(pairs, kind, name)
	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}
	pairs = append(pairs, attrs...)
	return From(ctx, fallback).With(pairs...)
}
