// Package requestctx provides request-scoped values (e.g. org_id, user_id)
// set by middleware.
package requestctx

import "context"

type contextKey struct{}

var (
	orgIDKey  = &contextKey{}
	userIDKey = &contextKey{}
)

// SetOrgID stores org_id in the context.
func SetOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgIDKey, orgID)
}

// OrgID returns the org_id from context, or "" if not set.
func OrgID(ctx context.Context) string {
	v, _ := ctx.Value(orgIDKey).(string)
	return v
}

// SetUserID stores user_id in the context.
func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the user_id from context, or "" if not set.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(userIDKey).(string)
	return v
}
