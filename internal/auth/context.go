package auth

import "context"

type contextKey struct{}

// Context carries the identity extracted from a verified session token.
// Families is the family set snapshotted at token issuance; the
// authoritative set always lives in the access store.
type Context struct {
	UserID   int64
	Email    string
	Families []string
}

func WithAuth(ctx context.Context, ac Context) context.Context {
	return context.WithValue(ctx, contextKey{}, ac)
}

func FromContext(ctx context.Context) (Context, bool) {
	ac, ok := ctx.Value(contextKey{}).(Context)
	return ac, ok
}

func UserID(ctx context.Context) int64 {
	ac, ok := FromContext(ctx)
	if !ok {
		return 0
	}
	return ac.UserID
}

// HasFamily reports whether the session snapshot covers the given family.
func (c Context) HasFamily(name string) bool {
	for _, f := range c.Families {
		if f == name {
			return true
		}
	}
	return false
}
