package shared

import "context"

// ctxKey namespaces the context values owned by this package.
type ctxKey int

const sessionKey ctxKey = iota

// ContextWithSession returns a child context carrying the request session.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// SessionFromContext returns the session placed by the session middleware,
// or nil for requests that never passed through it.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey).(*Session)
	return sess
}
