package session

import "context"

type contextKey struct{}

// Identity is the authenticated caller attached to a request. A zero Identity means anonymous.
type Identity struct {
	UserID    string
	SessionID string
}

// Authenticated reports whether a user is attached.
func (i Identity) Authenticated() bool {
	return i.UserID != ""
}

// WithIdentity attaches id to ctx. Collaborators that authenticate by other means (bearer
// tokens, mTLS subjects) use it to feed the per-user rate limit.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the attached identity, or a zero Identity.
func FromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	id, _ := ctx.Value(contextKey{}).(Identity)
	return id
}

// UserID returns the attached user ID, or "" for anonymous requests.
func UserID(ctx context.Context) string {
	return FromContext(ctx).UserID
}
