package http

import (
	"context"
	"log/slog"

	"github.com/example/teleconsult/internal/logging"
)

var defaultLogger = logging.OrDefault

func handlerLogger(ctx context.Context, fallback *slog.Logger, handlerName, operation string, attrs ...any) *slog.Logger {
	return logging.Scope(ctx, fallback, "handler", handlerName, operation, attrs...)
}
