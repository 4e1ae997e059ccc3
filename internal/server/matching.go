package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	matchingdomain "github.com/skillvouch/skillvouch/internal/matching/domain"
)

func (s *Server) ScoreCandidate(c *gin.Context) {
	if _, ok := actorFromRequest(c); !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req matchingdomain.ScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	score, err := s.matchingSvc.ScoreCandidate(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"match": score})
}
