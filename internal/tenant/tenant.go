// Package tenant implements the (caller, tenant) membership trust
// boundary every core operation sits behind: the core refuses any
// operation whose caller has no membership in the target tenant; role
// resolution itself is external. Grounded on the teacher's AuthMiddleware
// context-injection pattern, regrounded on gin instead of a bot.HandlerFunc
// chain.
package tenant

import (
	"context"

	apperrors "github.com/metahub/integrationhub/internal/errors"
)

type contextKey string

const callerContextKey contextKey = "metahub_caller"

// Caller is the authenticated principal attached to a request's context.
type Caller struct {
	UserID      string
	TenantID    string
	Memberships map[string]bool // tenant ids this caller belongs to
}

// IsMember reports whether the caller belongs to tenantID.
func (c Caller) IsMember(tenantID string) bool {
	return c.Memberships[tenantID]
}

// MembershipChecker resolves tenant membership for a caller. Concrete
// implementations live outside this package (session store, SSO claims);
// this package only defines the contract the core depends on.
type MembershipChecker interface {
	Resolve(ctx context.Context, sessionToken string) (Caller, error)
}

// WithCaller attaches an already-resolved Caller to ctx.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, c)
}

// FromContext retrieves the Caller a MembershipChecker attached earlier.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey).(Caller)
	return c, ok
}

// RequireMember is the trust-boundary check every core operation performs
// before touching tenant-owned data: no caller in context, or a caller
// without membership in tenantID, is an AuthError.
func RequireMember(ctx context.Context, tenantID string) (Caller, error) {
	caller, ok := FromContext(ctx)
	if !ok {
		return Caller{}, apperrors.NewUnauthenticatedError("no authenticated caller in context")
	}
	if !caller.IsMember(tenantID) {
		return Caller{}, apperrors.NewForbiddenError("caller is not a member of this tenant")
	}
	return caller, nil
}
