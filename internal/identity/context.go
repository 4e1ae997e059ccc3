// Package identity carries the authenticated (user, role) pair through the
// request context. Token verification happens upstream; this core trusts the
// pair as given.
package identity

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// Role names recognized by the core.
const (
	RoleMember       = "member"
	RoleRecruiter    = "recruiter"
	RoleVerifier     = "verifier"
	RoleAdmin        = "admin"
	RolePartner      = "partner"
	RoleEarlyAdopter = "early_adopter"
)

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID snowflake.ID
	Role   string
}

// CanReview reports whether the actor may claim and decide verification
// requests.
func (a Actor) CanReview() bool {
	return a.Role == RoleVerifier || a.Role == RoleAdmin
}

type actorContextKey struct{}

// WithActor stores the actor in the context.
func WithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext returns the actor from context, if set.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.UserID == 0 {
		return Actor{}, false
	}
	return actor, true
}

// NormalizeRole lowercases and trims a role name, defaulting to member.
func NormalizeRole(raw string) string {
	role := strings.ToLower(strings.TrimSpace(raw))
	if role == "" {
		return RoleMember
	}
	return role
}
