package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 24 * time.Hour

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthService turns HS256 bearer tokens into principals. The subject claim
// carries the user ID and the role claim the account kind.
type AuthService struct {
	secret []byte
	now    func() time.Time
	logger *slog.Logger
}

// NewAuthService constructs an AuthService verifying tokens signed with secret.
func NewAuthService(secret []byte, now func() time.Time) *AuthService {
	return NewAuthServiceWithLogger(secret, now, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(secret []byte, now func() time.Time, logger *slog.Logger) *AuthService {
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		secret: secret,
		now:    now,
		logger: defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// Authenticate validates a bearer token and returns its principal. Every
// failure is reported as ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, raw string) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Authenticate")
	defer func() {
		if err != nil {
			logger.DebugContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	raw = strings.TrimSpace(raw)
	if raw == "" || len(s.secret) == 0 {
		err = ErrUnauthorized
		return
	}

	claims := &tokenClaims{}
	token, parseErr := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if parseErr != nil || !token.Valid {
		err = fmt.Errorf("%w: %v", ErrUnauthorized, parseErr)
		return
	}

	role, ok := ParseRole(claims.Role)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		err = fmt.Errorf("%w: missing subject or role", ErrUnauthorized)
		return
	}

	principal = Principal{UserID: claims.Subject, Role: role}
	return
}

// IssueToken signs a token for principal valid for ttl. A non-positive ttl
// means one day.
func (s *AuthService) IssueToken(principal Principal, ttl time.Duration) (string, error) {
	if s == nil {
		return "", fmt.Errorf("AuthService is nil")
	}
	if len(s.secret) == 0 {
		return "", fmt.Errorf("token secret not configured")
	}
	if principal.UserID == "" {
		return "", fmt.Errorf("principal has no user id")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := s.now()
	claims := tokenClaims{
		Role: string(principal.Role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principal.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
