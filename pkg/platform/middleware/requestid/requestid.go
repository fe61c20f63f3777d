// Package requestid assigns a correlation ID to every request so log lines
// and audit events can be stitched together.
package requestid

import (
	"net/http"

	"github.com/google/uuid"

	"knomee/pkg/requestcontext"
)

// Header is echoed back to clients and honored when supplied upstream.
const Header = "X-Request-ID"

// Middleware reuses an incoming request ID or generates one.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(Header)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(Header, reqID)
		ctx := requestcontext.WithRequestID(r.Context(), reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
