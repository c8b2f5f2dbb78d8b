package middleware

import (
	"context"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Context key type to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for authenticated credential claims
	ClaimsKey contextKey = "claims"
)

// Claims identifies an authenticated API credential
type Claims struct {
	Sub string `json:"sub"` // Subject (the project's public key)
	Iss string `json:"iss"` // Issuer
	Exp int64  `json:"exp"` // Expiration
	Iat int64  `json:"iat"` // Issued at
}

// GetRequestIDFromContext retrieves the request ID placed in the context by
// chi's RequestID middleware
func GetRequestIDFromContext(ctx context.Context) string {
	return chimiddleware.GetReqID(ctx)
}

// WithRequestID adds a request ID to the context under the same key chi's
// RequestID middleware uses, so handlers see one consistent value
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, chimiddleware.RequestIDKey, requestID)
}

// GetClaimsFromContext retrieves credential claims from context
func GetClaimsFromContext(ctx context.Context) *Claims {
	if val := ctx.Value(ClaimsKey); val != nil {
		if claims, ok := val.(*Claims); ok {
			return claims
		}
	}
	return nil
}

// WithClaims adds credential claims to the context
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, ClaimsKey, claims)
}
