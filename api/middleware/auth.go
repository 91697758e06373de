package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	pkgAuth "github.com/angelmondragon/marketplace-orchestrator/pkg/auth"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/config"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// Auth turns a bearer access token into the request's Principal. Handlers
// behind it never see an anonymous caller.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "bearer token required"))
				return
			}
			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}

			principal := claims.Principal()
			ctx := WithPrincipal(r.Context(), principal)
			ctx = logg.WithUserID(ctx, principal.UserID.String())
			ctx = logg.WithActorRole(ctx, string(principal.Role))
			if principal.VendorID != nil {
				ctx = logg.WithVendorID(ctx, principal.VendorID.String())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
