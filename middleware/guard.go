// Package middleware provides net/http glue over the engine's Verify
// operation: bearer extraction, device-fingerprint context attachment, and
// principal propagation to downstream handlers.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/nebulock/authgate"
)

// Guard returns middleware that rejects requests without a valid access
// token. The verified principal is attached to the request context and can
// be read with authgate.AuthResultFromContext.
func Guard(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := withRequestFingerprint(r)
			res, err := engine.Verify(ctx, token)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(authgate.WithAuthResult(ctx, res)))
		})
	}
}

// Public returns middleware that attaches the principal when a valid token
// is present but lets anonymous requests through. Handlers decide what an
// absent principal means.
func Public(engine *authgate.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := withRequestFingerprint(r)

			if engine != nil {
				if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
					if res, err := engine.Verify(ctx, token); err == nil {
						ctx = authgate.WithAuthResult(ctx, res)
					}
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withRequestFingerprint(r *http.Request) context.Context {
	ctx := authgate.WithClientIP(r.Context(), clientIP(r))
	return authgate.WithUserAgent(ctx, r.UserAgent())
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}
	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
