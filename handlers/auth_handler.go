package handlers

import (
	"net/http"

	"github.com/lumetrace/lumetrace/middleware"
	"github.com/lumetrace/lumetrace/utils"
	"go.uber.org/zap"
)

// AuthCheckResponse confirms that the presented credentials are valid
type AuthCheckResponse struct {
	Authenticated bool   `json:"authenticated"`
	PublicKey     string `json:"public_key"`
}

// TokenResponse carries an issued bearer token
type TokenResponse struct {
	Token string `json:"token"`
}

// TokenIssuer mints bearer tokens from a validated key pair
type TokenIssuer interface {
	IssueToken(publicKey, secretKey string) (string, error)
}

// AuthHandler handles credential verification HTTP requests
type AuthHandler struct {
	issuer TokenIssuer
	logger *zap.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(issuer TokenIssuer, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{
		issuer: issuer,
		logger: logger,
	}
}

// HandleAuthCheck handles GET /api/v1/auth/check
// Runs behind the auth middleware; reaching it means the credentials are valid
func (h *AuthHandler) HandleAuthCheck(w http.ResponseWriter, r *http.Request) {
	claims := middleware.GetClaimsFromContext(r.Context())
	if claims == nil {
		_ = utils.WriteUnauthorized(w, "")
		return
	}

	_ = utils.WriteOK(w, AuthCheckResponse{
		Authenticated: true,
		PublicKey:     claims.Sub,
	})
}

// HandleIssueToken handles POST /api/v1/auth/token
// Exchanges Basic credentials for a short-lived bearer token
func (h *AuthHandler) HandleIssueToken(w http.ResponseWriter, r *http.Request) {
	publicKey, secretKey, ok := r.BasicAuth()
	if !ok {
		_ = utils.WriteUnauthorized(w, "Basic credentials required")
		return
	}

	token, err := h.issuer.IssueToken(publicKey, secretKey)
	if err != nil {
		h.logger.Warn("token issuance failed", zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	_ = utils.WriteOK(w, TokenResponse{Token: token})
}
