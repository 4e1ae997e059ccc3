package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/skillvouch/skillvouch/internal/identity"
)

const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"
)

// ActorContext extracts the authenticated (user, role) pair forwarded by the
// edge gateway. Token verification happens upstream; this service trusts the
// headers as given.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(headerUserID))
		if raw == "" {
			c.Next()
			return
		}

		userID, err := snowflake.ParseString(raw)
		if err != nil || userID == 0 {
			c.Next()
			return
		}

		actor := identity.Actor{
			UserID: userID,
			Role:   identity.NormalizeRole(c.GetHeader(headerUserRole)),
		}
		c.Request = c.Request.WithContext(identity.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// AuthRequired rejects requests without an authenticated actor.
func AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.ActorFromContext(c.Request.Context()); !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func actorFromRequest(c *gin.Context) (identity.Actor, bool) {
	return identity.ActorFromContext(c.Request.Context())
}
