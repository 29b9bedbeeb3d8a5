package middleware

import "context"

type callerKey struct{}

// Caller is the authenticated principal of a cart request. Credential is the
// Authorization header exactly as received so it can be forwarded upstream.
type Caller struct {
	OwnerID    string
	Credential string
}

// WithCaller stores c on ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, callerKey{}, c)
}

// CallerFromContext returns the caller stored by Auth. ok is false for
// unauthenticated requests.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	if ctx == nil {
		return Caller{}, false
	}
	c, ok := ctx.Value(callerKey{}).(Caller)
	if !ok || c.OwnerID == "" {
		return Caller{}, false
	}
	return c, true
}

// OwnerIDFromContext is shorthand for the caller's owner id, or "".
func OwnerIDFromContext(ctx context.Context) string {
	c, _ := CallerFromContext(ctx)
	return c.OwnerID
}
