// Package caller resolves the authenticated caller address for each request.
//
// The deployment environment terminates authentication upstream (gateway or
// sidecar) and forwards the verified address in a trusted header. This
// middleware only lifts that header into the request context; it performs no
// verification of its own.
package caller

import (
	"net/http"

	"knomee/pkg/domain"
	dErrors "knomee/pkg/domain-errors"
	"knomee/pkg/platform/httputil"
	"knomee/pkg/requestcontext"
)

// Header carries the upstream-verified caller address.
const Header = "X-Caller-Address"

// Middleware extracts the caller address into the context. Requests without a
// parseable address are rejected before reaching handlers.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, err := domain.ParseAddress(r.Header.Get(Header))
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "caller address missing or invalid"))
			return
		}
		ctx := requestcontext.WithCaller(r.Context(), addr)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
