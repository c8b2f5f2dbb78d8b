package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/lumetrace/lumetrace/utils"
	"go.uber.org/zap"
)

// TokenValidator defines the interface for validating bearer tokens
type TokenValidator interface {
	// ValidateToken validates a bearer token and returns claims
	ValidateToken(ctx context.Context, token string) (*Claims, error)
}

// BasicValidator defines the interface for validating key pairs sent
// with HTTP Basic authentication
type BasicValidator interface {
	// ValidateBasic validates a public/secret key pair and returns claims
	ValidateBasic(ctx context.Context, publicKey, secretKey string) (*Claims, error)
}

// CredentialValidator combines both authentication schemes
type CredentialValidator interface {
	TokenValidator
	BasicValidator
}

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator CredentialValidator
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware
func NewAuthMiddleware(validator CredentialValidator, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires valid credentials: either
// Basic with the project key pair or Bearer with an issued token
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		var claims *Claims
		var err error

		if publicKey, secretKey, ok := r.BasicAuth(); ok {
			claims, err = m.validator.ValidateBasic(ctx, publicKey, secretKey)
		} else if token := extractBearerToken(r); token != "" {
			claims, err = m.validator.ValidateToken(ctx, token)
		} else {
			m.logger.Warn("missing credentials",
				zap.String("request_id", requestID))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		if err != nil {
			m.logger.Warn("credential validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid credentials")
			return
		}

		ctx = WithClaims(ctx, claims)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("sub", claims.Sub))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
