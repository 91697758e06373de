package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/marketplace-orchestrator/api/responses"
	pkgerrors "github.com/angelmondragon/marketplace-orchestrator/pkg/errors"
	"github.com/angelmondragon/marketplace-orchestrator/pkg/logger"
)

// Recoverer turns a handler panic into a logged 500 so one bad request cannot
// take the API down. http.ErrAbortHandler is re-raised for net/http to handle.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(rec)
				}
				ctx := logg.WithFields(r.Context(), map[string]any{
					"method": r.Method,
					"path":   r.URL.Path,
				})
				cause := fmt.Errorf("panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				logg.Error(ctx, "handler panicked", cause)
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, cause, "internal error"))
			}()
			next.ServeHTTP(w, r)
		})
	}
}
