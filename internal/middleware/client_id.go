package middleware

import (
	"net"
	"net/http"
	"strings"

	chimw "github.com/go-chi/chi/v5/middleware"
)

// UnknownClient is the shared bucket for requests without a usable address.
const UnknownClient = "unknown"

// ClientID returns the rate limit key for r: the host part of RemoteAddr.
// When the deployment trusts its proxy, TrustProxy has already rewritten
// RemoteAddr from the forwarded headers.
func ClientID(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if addr == "" {
		return UnknownClient
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		if host == "" {
			return UnknownClient
		}
		return host
	}
	return addr
}

// TrustProxy returns chi's RealIP middleware when trust is true and a
// pass-through otherwise. Forwarded headers are spoofable, so they are only
// honoured behind a reverse proxy that overwrites them.
func TrustProxy(trust bool) func(http.Handler) http.Handler {
	if trust {
		return chimw.RealIP
	}
	return func(next http.Handler) http.Handler { return next }
}
