package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	"github.com/skillvouch/skillvouch/internal/identity"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
)

type createObligationRequest struct {
	ActionType string `json:"action_type" binding:"required"`
}

type paymentCompletionRequest struct {
	Reference         string `json:"reference" binding:"required"`
	ProviderPaymentID string `json:"provider_payment_id"`
	Succeeded         *bool  `json:"succeeded" binding:"required"`
}

func (s *Server) CreatePaymentObligation(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req createObligationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.CreateObligation(c.Request.Context(), actor.UserID, billingdomain.ActionType(strings.TrimSpace(req.ActionType)))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"intent": intent})
}

func (s *Server) GetPaymentIntent(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	reference := strings.TrimSpace(c.Param("reference"))
	intent, err := s.paymentSvc.GetByReference(c.Request.Context(), reference)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	// Owners see their own intents; anyone else gets not found rather
	// than confirmation the reference exists.
	if intent.UserID != actor.UserID && actor.Role != identity.RoleAdmin {
		AbortWithError(c, paymentdomain.ErrUnknownPayment)
		return
	}

	c.JSON(http.StatusOK, gin.H{"intent": intent})
}

// HandlePaymentCompletion is the provider callback. Redelivered events settle
// to the same terminal state and are acknowledged with 200 so the provider
// stops retrying.
func (s *Server) HandlePaymentCompletion(c *gin.Context) {
	var req paymentCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	intent, err := s.paymentSvc.HandleCompletion(c.Request.Context(), paymentdomain.CompletionEvent{
		Reference:         strings.TrimSpace(req.Reference),
		ProviderPaymentID: strings.TrimSpace(req.ProviderPaymentID),
		Succeeded:         req.Succeeded != nil && *req.Succeeded,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"reference": intent.Reference,
		"state":     intent.Status,
	})
}
