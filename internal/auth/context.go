package auth

import "context"

type officialContextKey struct{}
type tokenContextKey struct{}

// ContextWithOfficial attaches the authenticated official to the context.
func ContextWithOfficial(ctx context.Context, o Official) context.Context {
	return context.WithValue(ctx, officialContextKey{}, &o)
}

// OfficialFromContext extracts the authenticated official from the context.
func OfficialFromContext(ctx context.Context) (Official, bool) {
	if ctx == nil {
		return Official{}, false
	}
	v, ok := ctx.Value(officialContextKey{}).(*Official)
	if !ok || v == nil {
		return Official{}, false
	}
	return *v, true
}

// ContextWithToken stores the raw bearer token inside the context.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
