package authgate

import "context"

type clientIPContextKey struct{}
type userAgentContextKey struct{}
type authResultContextKey struct{}

// WithClientIP attaches the caller's IP address to ctx. The engine uses it
// for the session device fingerprint, binding checks, and audit records.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

// WithUserAgent attaches the HTTP User-Agent string to ctx for the session
// device fingerprint.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	return context.WithValue(ctx, userAgentContextKey{}, userAgent)
}

// WithAuthResult attaches a verified principal to ctx. The middleware calls
// this after a successful Verify so handlers can read the identity back.
func WithAuthResult(ctx context.Context, res *AuthResult) context.Context {
	return context.WithValue(ctx, authResultContextKey{}, res)
}

// AuthResultFromContext returns the principal attached by WithAuthResult.
func AuthResultFromContext(ctx context.Context) (*AuthResult, bool) {
	res, ok := ctx.Value(authResultContextKey{}).(*AuthResult)
	return res, ok
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}

func userAgentFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	ua, _ := ctx.Value(userAgentContextKey{}).(string)
	return ua
}
