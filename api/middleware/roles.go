package middleware

import (
	"net/http"
	"slices"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// RequireRole guards a route group. A request without a principal is 401; a
// principal outside roles is 403. Vendor principals must also name the vendor
// they act for, since every vendor route is scoped by it.
func RequireRole(logg *logger.Logger, roles ...enums.MemberRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFromContext(r.Context())
			var err *pkgerrors.Error
			switch {
			case p.UserID == uuid.Nil:
				err = pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
			case !slices.Contains(roles, p.Role):
				err = pkgerrors.New(pkgerrors.CodeForbidden, "role "+string(p.Role)+" may not use this route")
			case p.Role == enums.MemberRoleVendor && (p.VendorID == nil || *p.VendorID == uuid.Nil):
				err = pkgerrors.New(pkgerrors.CodeForbidden, "vendor token has no vendor id")
			}
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
