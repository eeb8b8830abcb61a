package middleware

import (
	"net/http"
	"strings"
)

const (
	adminCORSHeaders = "Authorization, Content-Type, X-Request-ID"
	adminCORSMethods = "GET, POST, OPTIONS"
)

// AdminCORS lets an operator console on a listed origin call the admin API.
// Wildcards are ignored because every admin request carries a bearer token.
// With an empty allowlist the middleware is a pass-through.
func AdminCORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := map[string]struct{}{}
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(strings.TrimSpace(origin), "/")
		if origin == "" || origin == "*" {
			continue
		}
		allow[origin] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if len(allow) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := strings.TrimSpace(r.Header.Get("Origin"))
			_, ok := allow[origin]
			if origin != "" && ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Headers", adminCORSHeaders)
				w.Header().Set("Access-Control-Allow-Methods", adminCORSMethods)
				w.Header().Set("Access-Control-Expose-Headers", "Retry-After, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "600")
			}

			// Preflights never carry the bearer token, so answer them before auth runs.
			if r.Method == http.MethodOptions && origin != "" && r.Header.Get("Access-Control-Request-Method") != "" {
				if !ok {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
