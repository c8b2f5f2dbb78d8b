// Package auth validates API credentials. Two schemes are accepted: Basic
// with the project's public/secret key pair, and Bearer with a short-lived
// HS256 token minted from those keys.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lumetrace/lumetrace/middleware"
	"github.com/lumetrace/lumetrace/services"
	"go.uber.org/zap"
)

// Credentials is the project key pair clients authenticate with
type Credentials struct {
	PublicKey string
	SecretKey string
}

// Validator checks incoming credentials against the configured key pair
type Validator struct {
	credentials Credentials
	tokenTTL    time.Duration
	logger      *zap.Logger
}

// DefaultTokenTTL is the lifetime of issued bearer tokens
const DefaultTokenTTL = 1 * time.Hour

// NewValidator creates a new Validator
func NewValidator(credentials Credentials, logger *zap.Logger) *Validator {
	return &Validator{
		credentials: credentials,
		tokenTTL:    DefaultTokenTTL,
		logger:      logger,
	}
}

// ValidateKeyPair checks a public/secret key pair in constant time
func (v *Validator) ValidateKeyPair(publicKey, secretKey string) error {
	pkMatch := subtle.ConstantTimeCompare([]byte(publicKey), []byte(v.credentials.PublicKey))
	skMatch := subtle.ConstantTimeCompare([]byte(secretKey), []byte(v.credentials.SecretKey))
	if pkMatch&skMatch != 1 {
		return services.ErrInvalidCredential
	}
	return nil
}

// IssueToken mints a bearer token for a validated key pair
func (v *Validator) IssueToken(publicKey, secretKey string) (string, error) {
	if err := v.ValidateKeyPair(publicKey, secretKey); err != nil {
		return "", err
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": publicKey,
		"iss": "lumetrace",
		"iat": now.Unix(),
		"exp": now.Add(v.tokenTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(v.credentials.SecretKey))
	if err != nil {
		return "", services.WrapInternal("failed to sign token", err)
	}

	return signed, nil
}

// ValidateToken verifies a bearer token and returns its claims. It satisfies
// middleware.TokenValidator.
func (v *Validator) ValidateToken(ctx context.Context, tokenString string) (*middleware.Claims, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(v.credentials.SecretKey), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithExpirationRequired())

	if err != nil {
		return nil, services.NewDomainError(services.ErrorTypeUnauthorized, "invalid or expired token", err)
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, services.ErrInvalidToken
	}

	claims := &middleware.Claims{}
	if sub, ok := mapClaims["sub"].(string); ok {
		claims.Sub = sub
	}
	if iss, ok := mapClaims["iss"].(string); ok {
		claims.Iss = iss
	}
	if exp, ok := mapClaims["exp"].(float64); ok {
		claims.Exp = int64(exp)
	}
	if iat, ok := mapClaims["iat"].(float64); ok {
		claims.Iat = int64(iat)
	}

	return claims, nil
}

// ValidateBasic checks a key pair and returns claims for it. It satisfies
// middleware.BasicValidator.
func (v *Validator) ValidateBasic(ctx context.Context, publicKey, secretKey string) (*middleware.Claims, error) {
	if err := v.ValidateKeyPair(publicKey, secretKey); err != nil {
		v.logger.Warn("key pair rejected", zap.String("public_key", publicKey))
		return nil, err
	}
	return &middleware.Claims{Sub: publicKey, Iss: "lumetrace"}, nil
}
