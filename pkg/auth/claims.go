package auth

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	UserID string
	Email  string
	Type   string
}

// AccessTokenClaims mirrors the token issued by the storefront auth service.
type AccessTokenClaims struct {
	UserID string `json:"id"`
	Email  string `json:"email,omitempty"`
	Type   string `json:"type,omitempty"`
	jwt.RegisteredClaims
}

// OwnerID is the identifier carts are keyed by. Tokens that only carry the
// standard subject claim are accepted too.
func (c *AccessTokenClaims) OwnerID() string {
	if c == nil {
		return ""
	}
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}
