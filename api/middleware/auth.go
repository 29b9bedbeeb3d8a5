package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/jem-cart/api/responses"
	pkgAuth "github.com/angelmondragon/jem-cart/pkg/auth"
	"github.com/angelmondragon/jem-cart/pkg/config"
	pkgerrors "github.com/angelmondragon/jem-cart/pkg/errors"
	"github.com/angelmondragon/jem-cart/pkg/logger"
)

const bearerScheme = "bearer"

// Auth resolves the cart owner from a bearer token. Every cart route sits
// behind it; there is no anonymous cart.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get("Authorization"))
			token, err := bearerToken(header)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			claims, parseErr := pkgAuth.ParseAccessToken(cfg, token)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, parseErr, "invalid token"))
				return
			}

			owner := claims.OwnerID()
			ctx := WithCaller(r.Context(), Caller{OwnerID: owner, Credential: header})
			if logg != nil {
				ctx = logg.WithOwnerID(ctx, owner)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <jwt>" in any case as well as a bare token.
func bearerToken(header string) (string, error) {
	if header == "" {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	token := header
	if scheme, rest, found := strings.Cut(header, " "); found && strings.EqualFold(scheme, bearerScheme) {
		token = strings.TrimSpace(rest)
	}
	if token == "" || strings.EqualFold(token, bearerScheme) {
		return "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return token, nil
}
