package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/skillvouch/skillvouch/internal/authorization"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
)

func (s *Server) QuoteFee(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	actionType := billingdomain.ActionType(strings.TrimSpace(c.Query("action_type")))
	quote, err := s.billingSvc.ResolveFee(c.Request.Context(), actor.UserID, actionType)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"quote": quote})
}

func (s *Server) PeekEntitlement(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectEntitlement, authorization.ActionEntitlementView); err != nil {
		AbortWithError(c, err)
		return
	}

	feature := strings.TrimSpace(c.Param("feature"))
	decision, err := s.entitlementSvc.PeekEntitlement(c.Request.Context(), actor.UserID, feature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": decision})
}

// ConsumeEntitlement spends one unit against the caller's own subscription.
// Callers always act on their own plan here, so there is no policy object
// beyond the authenticated actor.
func (s *Server) ConsumeEntitlement(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	feature := strings.TrimSpace(c.Param("feature"))
	decision, err := s.entitlementSvc.TryConsumeEntitlement(c.Request.Context(), actor.UserID, feature)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if decision.Covered && !decision.WithinLimit {
		AbortWithError(c, ErrEntitlementExceeded)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"granted":  decision.Covered && decision.WithinLimit,
		"decision": decision,
	})
}

// ReleaseEntitlement returns one consumed unit when the gated action was
// rolled back before completion.
func (s *Server) ReleaseEntitlement(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	feature := strings.TrimSpace(c.Param("feature"))
	if err := s.entitlementSvc.ReleaseEntitlement(c.Request.Context(), actor.UserID, feature); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "released"})
}
