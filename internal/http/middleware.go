package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/example/teleconsult/internal/application"
	"github.com/example/teleconsult/internal/logging"
)

// Authenticator resolves a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (application.Principal, error)
}

// RequireAuth rejects requests without a valid bearer token and stores the
// principal on the gin context.
func RequireAuth(authenticator Authenticator, logger *slog.Logger) gin.HandlerFunc {
	responder := newResponder(logger)

	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			responder.writeError(c, http.StatusUnauthorized, errMissingToken)
			return
		}

		principal, err := authenticator.Authenticate(c.Request.Context(), token)
		if err != nil {
			if errors.Is(err, application.ErrUnauthorized) {
				responder.abort(c, http.StatusUnauthorized, errorResponse{
					ErrorCode: "AUTH_UNAUTHORIZED",
					Message:   "認証トークンが無効です。再度ログインしてください。",
				})
				return
			}
			responder.abort(c, http.StatusInternalServerError, errorResponse{Message: "認証トークンの検証中にエラーが発生しました。"})
			return
		}

		ctx := logging.With(c.Request.Context(), "user_id", principal.UserID, "role", string(principal.Role))
		c.Request = c.Request.WithContext(ctx)
		setPrincipal(c, principal)
		c.Next()
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// RequestLogger attaches a request scoped logger to the request context and
// logs start and completion of every request.
func RequestLogger(base *slog.Logger) gin.HandlerFunc {
	if base == nil {
		base = slog.Default()
	}
	var counter atomic.Uint64

	return func(c *gin.Context) {
		id := counter.Add(1)
		logger := base.With(
			"request_id", id,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
		)

		ctx := logging.Attach(c.Request.Context(), logger)
		c.Request = c.Request.WithContext(ctx)
		start := time.Now()
		logger.InfoContext(ctx, "request started")
		c.Next()
		logger.InfoContext(ctx, "request completed", "status", c.Writer.Status(), "duration", time.Since(start))
	}
}
