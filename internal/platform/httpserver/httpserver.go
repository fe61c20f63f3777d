package httpserver

import (
	"net/http"
	"time"
)

// New builds the API server. Claim and vouch requests are small JSON bodies;
// the tight read timeouts cut off slow-loris clients without affecting
// legitimate traffic.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
