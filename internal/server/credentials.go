package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/skillvouch/skillvouch/internal/authorization"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
)

type createCredentialRequest struct {
	Kind        string `json:"kind" binding:"required"`
	Title       string `json:"title" binding:"required"`
	Issuer      string `json:"issuer"`
	Description string `json:"description"`
}

func (s *Server) CreateCredential(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectCredential, authorization.ActionCredentialSubmit); err != nil {
		AbortWithError(c, err)
		return
	}

	var req createCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	credential, err := s.verificationSvc.CreateCredential(c.Request.Context(), actor, verificationdomain.CreateCredentialRequest{
		Kind:        verificationdomain.CredentialKind(req.Kind),
		Title:       req.Title,
		Issuer:      req.Issuer,
		Description: req.Description,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"credential": credential})
}
